package platform

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentions(t *testing.T) {
	assert.Equal(t, "<@42>", MentionUser("42"))
	assert.Equal(t, "<@&43>", MentionRole("43"))
	assert.Equal(t, "<#44>", MentionChannel("44"))
}

func TestButtonStylesMatchDiscord(t *testing.T) {
	assert.Equal(t, discordgo.PrimaryButton, discordgo.ButtonStyle(ButtonPrimary))
	assert.Equal(t, discordgo.SecondaryButton, discordgo.ButtonStyle(ButtonSecondary))
	assert.Equal(t, discordgo.SuccessButton, discordgo.ButtonStyle(ButtonSuccess))
	assert.Equal(t, discordgo.DangerButton, discordgo.ButtonStyle(ButtonDanger))
}

func TestButtonRow(t *testing.T) {
	row := ButtonRow([]Button{
		{ID: "a", Label: "Archive", Style: ButtonSecondary, Disabled: true},
		{ID: "d", Label: "Delete", Style: ButtonDanger},
	})
	require.Len(t, row.Components, 2)

	first, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "a", first.CustomID)
	assert.Equal(t, "Archive", first.Label)
	assert.True(t, first.Disabled)

	second, ok := row.Components[1].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, discordgo.DangerButton, second.Style)
	assert.False(t, second.Disabled)
}
