package memoryhint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractUserName(t *testing.T) {
	facts := Extract("Hi, my name is Dana and I need help with a report.")
	assert.Contains(t, facts, Fact{Key: "user_name", Value: "Dana"})
}

func TestExtractUserNameViaCallMe(t *testing.T) {
	facts := Extract("Just call me Max from now on.")
	assert.Contains(t, facts, Fact{Key: "user_name", Value: "Max"})
}

func TestExtractAgentName(t *testing.T) {
	facts := Extract("From now on your name is Buddy.")
	assert.Contains(t, facts, Fact{Key: "agent_name", Value: "Buddy"})
}

func TestExtractBothNames(t *testing.T) {
	facts := Extract("my name is Alice, your name is Assistant")
	assert.Len(t, facts, 2)
}

func TestExtractNoMatch(t *testing.T) {
	facts := Extract("what's the weather like today?")
	assert.Empty(t, facts)
}
