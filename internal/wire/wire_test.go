package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalReturnsType(t *testing.T) {
	var v struct {
		Type string `json:"type"`
		N    int    `json:"n"`
	}
	typ, err := Unmarshal(TopicCostEvents, []byte(`{"type":"llm_metrics","n":3}`), &v)

	require.NoError(t, err)
	assert.Equal(t, "llm_metrics", typ)
	assert.Equal(t, 3, v.N)
}

func TestUnmarshalFailures(t *testing.T) {
	var v struct {
		N int `json:"n"`
	}
	cases := map[string]struct {
		payload []byte
		reason  string
	}{
		"bad utf8":   {[]byte{0xff, 0xfe}, "invalid utf-8"},
		"bad json":   {[]byte(`{"type":`), "invalid json"},
		"wrong type": {[]byte(`{"type":"x","n":"three"}`), "invalid x event"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(TopicToolEvents, tc.payload, &v)
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, TopicToolEvents, de.Topic)
			assert.Equal(t, tc.reason, de.Reason)
		})
	}
}
