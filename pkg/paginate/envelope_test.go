package paginate

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/httpx"
)

func decode(t *testing.T, cfg config.EnvelopeConfig, body string, header http.Header) (*Page, error) {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	env := NewEnvelope(cfg, "test", zap.NewNop())
	return env.Decode(&httpx.RawResponse{StatusCode: 200, Header: header, Body: []byte(body)})
}

func TestEnvelopeDecode(t *testing.T) {
	t.Run("records at configured path", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "data.items"},
			`{"data":{"items":[{"id":1},{"id":2}]}}`, nil)
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
		assert.Equal(t, "1", page.Records[0].GetString("id"))
	})

	t.Run("records at body root", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{}, `[{"id":"a"}]`, nil)
		require.NoError(t, err)
		assert.Len(t, page.Records, 1)
	})

	t.Run("empty array yields empty page", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items"}, `{"items":[]}`, nil)
		require.NoError(t, err)
		assert.Empty(t, page.Records)
		assert.Zero(t, page.Skipped)
	})

	t.Run("invalid JSON is fatal", func(t *testing.T) {
		_, err := decode(t, config.EnvelopeConfig{}, `{"items":`, nil)
		require.Error(t, err)
		assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
	})

	t.Run("missing records path is fatal", func(t *testing.T) {
		_, err := decode(t, config.EnvelopeConfig{RecordsPath: "items"}, `{"results":[]}`, nil)
		require.Error(t, err)
		assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
	})

	t.Run("records path not an array is fatal", func(t *testing.T) {
		_, err := decode(t, config.EnvelopeConfig{RecordsPath: "items"}, `{"items":{"id":1}}`, nil)
		require.Error(t, err)
		assert.Equal(t, errors.ErrorTypeData, errors.TypeOf(err))
	})

	t.Run("malformed record is skipped not fatal", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items"},
			`{"items":[{"id":1},"not-an-object",42,{"id":2}]}`, nil)
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
		assert.Equal(t, 2, page.Skipped)
	})
}

func TestEnvelopePaginationMetadata(t *testing.T) {
	t.Run("next token extracted", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items", NextTokenPath: "meta.next"},
			`{"items":[],"meta":{"next":"tok-2"}}`, nil)
		require.NoError(t, err)
		assert.Equal(t, "tok-2", page.NextToken)
	})

	t.Run("absent next token is empty", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items", NextTokenPath: "meta.next"},
			`{"items":[]}`, nil)
		require.NoError(t, err)
		assert.Empty(t, page.NextToken)
	})

	t.Run("next url from envelope", func(t *testing.T) {
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items", NextURLPath: "links.next"},
			`{"items":[],"links":{"next":"https://api.example.com/p2"}}`, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/p2", page.NextURL)
	})

	t.Run("link header wins over envelope url", func(t *testing.T) {
		header := http.Header{}
		header.Set("Link", `<https://api.example.com/header-next>; rel="next"`)
		page, err := decode(t, config.EnvelopeConfig{RecordsPath: "items", NextURLPath: "links.next"},
			`{"items":[],"links":{"next":"https://api.example.com/body-next"}}`, header)
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/header-next", page.NextURL)
	})
}
