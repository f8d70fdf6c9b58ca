package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)

	assert.Contains(t, set.Intent, `{"intent"`)
	assert.Contains(t, set.Intent, "ANSWER_QUESTION")
	assert.Contains(t, set.Intent, "CREATE_TICKET")
	assert.Contains(t, set.Intent, "GET_TICKET_STATUS")

	assert.NotEmpty(t, set.Ticket)
	assert.NotEmpty(t, set.QA)
}

func TestLoadDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "ticket.txt"),
		[]byte("You are a custom ticket assistant.\n"), 0o600))

	set, err := Load(dir)
	require.NoError(t, err)

	// Only the overridden prompt changes; the rest stay embedded.
	assert.Equal(t, "You are a custom ticket assistant.", set.Ticket)
	assert.Contains(t, set.Intent, "ANSWER_QUESTION")
	assert.NotEmpty(t, set.QA)
}

func TestTicketWithCategories(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)

	categories := []string{"HARDWARE", "SOFTWARE", "NETWORK"}
	instr := set.TicketWithCategories(categories)

	for _, c := range categories {
		assert.Contains(t, instr, c)
	}
	assert.Contains(t, instr, "Never use a category outside this list")

	// Without a configured set the instruction is unchanged.
	assert.Equal(t, set.Ticket, set.TicketWithCategories(nil))
}

func TestLoadMissingDirFallsBack(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.NotEmpty(t, set.Intent)
}
