package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knights-analytics/linspector/intrinsic"
)

func TestFromInstances(t *testing.T) {
	train := []intrinsic.Instance{
		{Tokens: []string{"haus"}, Label: "Nom"},
		{Tokens: []string{"maus"}, Label: "Acc"},
	}
	test := []intrinsic.Instance{
		{Tokens: []string{"haus"}, Label: "Dat"},
		{Tokens: []string{"baum"}, Label: "Nom"},
	}
	v := FromInstances(train, nil, test)

	assert.Equal(t, 5, v.TokenSize())
	assert.Equal(t, []string{"haus", "maus", "baum"}, v.Tokens())
	assert.Equal(t, PaddingToken, v.Token(PaddingIndex))
	assert.Equal(t, OOVToken, v.Token(OOVIndex))
	assert.Equal(t, 2, v.TokenIndex("haus"))
	assert.Equal(t, 4, v.TokenIndex("baum"))
	assert.Equal(t, OOVIndex, v.TokenIndex("katze"))

	assert.Equal(t, []string{"Nom", "Acc", "Dat"}, v.Labels())
	i, ok := v.LabelIndex("Dat")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, "Acc", v.Label(1))
	_, ok = v.LabelIndex("Gen")
	assert.False(t, ok)
}

func TestContrastiveTokens(t *testing.T) {
	v := FromInstances([]intrinsic.Instance{{Tokens: []string{"chat", "chats"}, Label: "Number"}})
	assert.Equal(t, []string{"chat", "chats"}, v.Tokens())
	assert.Equal(t, 1, v.LabelSize())
}
