package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadattrs/internal/storage"
)

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []storage.Attribute
	}{
		{
			name:    "skips lines without colon",
			content: "sentiment: positive\nurgency: high\nnot-a-line\ntopic: pricing",
			want: []storage.Attribute{
				{Key: "sentiment", Value: "positive"},
				{Key: "urgency", Value: "high"},
				{Key: "topic", Value: "pricing"},
			},
		},
		{
			name:    "splits at first colon",
			content: "topic: pricing: follow-up",
			want:    []storage.Attribute{{Key: "topic", Value: "pricing: follow-up"}},
		},
		{
			name:    "trims and keeps empty parts",
			content: "  AI Summary :  buyer is waiting on financing  \r\n: orphan value\nempty:",
			want: []storage.Attribute{
				{Key: "AI Summary", Value: "buyer is waiting on financing"},
				{Key: "", Value: "orphan value"},
				{Key: "empty", Value: ""},
			},
		},
		{
			name:    "repeated key keeps first position",
			content: "a: 1\nb: 2\na: 3",
			want: []storage.Attribute{
				{Key: "a", Value: "3"},
				{Key: "b", Value: "2"},
			},
		},
		{
			name:    "empty",
			content: "",
			want:    []storage.Attribute{},
		},
		{
			name:    "prose only",
			content: "I could not find any attributes in this thread.",
			want:    []storage.Attribute{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAttributes(tt.content)
			if diff := cmp.Diff(tt.want, got.Pairs()); diff != "" {
				t.Errorf("ParseAttributes() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAttributes_JSONOrder(t *testing.T) {
	attrs := ParseAttributes("urgency: high\nsentiment: positive\naction_required: yes")

	b, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.Equal(t, `{"urgency":"high","sentiment":"positive","action_required":"yes"}`, string(b))

	var back Attributes
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []string{"urgency", "sentiment", "action_required"}, back.Keys())

	var empty Attributes
	b, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}

func TestAttributes_EmbeddedInStruct(t *testing.T) {
	payload := struct {
		Attributes Attributes `json:"attributes"`
	}{Attributes: ParseAttributes("z: 1\na: 2")}

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"attributes":{"z":"1","a":"2"}}`, string(b))
}

func TestAttributes_UnmarshalRejectsNonObject(t *testing.T) {
	var a Attributes
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &a))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &a))
}

func TestAttributes_Get(t *testing.T) {
	var a Attributes
	_, ok := a.Get("missing")
	assert.False(t, ok)

	a.Set("k", "v")
	v, ok := a.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, a.Len())
}
