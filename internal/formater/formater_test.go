package formater

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/models"
)

func sampleTick() *models.Tick {
	return &models.Tick{
		Route:       "api/V1/TIC/XNAS/NVDA",
		Exchange:    "XNAS",
		Code:        "NVDA",
		TS:          1700000000.5,
		Open:        440.5,
		High:        452,
		Low:         439.25,
		Close:       450.1,
		TotalAmount: 123456789,
		Volume:      300,
		TotalVolume: 987654,
		MarketPhase: models.PhaseTrading,
	}
}

func sampleQuote() *models.Quote {
	return &models.Quote{
		Route:       "api/V1/QUO/XNAS/NVDA",
		Exchange:    "XNAS",
		Code:        "NVDA",
		TS:          1700000001,
		AskPrice:    450.1,
		AskVolume:   10,
		BidPrice:    449.9,
		BidVolume:   12,
		MarketPhase: models.PhasePostMarket,
	}
}

func allFormaters(t *testing.T) []Formater {
	t.Helper()
	var out []Formater
	for _, name := range []string{ContentJSON, ContentYAML, ContentTOML, ContentMsgpack} {
		f, err := New(name)
		require.NoError(t, err)
		require.Equal(t, name, f.ContentType())
		out = append(out, f)
	}
	return out
}

func TestFormater_RoundTripTick(t *testing.T) {
	for _, f := range allFormaters(t) {
		t.Run(f.ContentType(), func(t *testing.T) {
			in := sampleTick()
			enc, err := f.Format(in)
			require.NoError(t, err)
			assert.NotContains(t, string(enc.Bytes()), "api/V1")

			var out models.Tick
			require.NoError(t, f.(Decoder).Decode(enc.Bytes(), &out))

			in.Route = ""
			assert.Equal(t, *in, out)
		})
	}
}

func TestFormater_RoundTripQuote(t *testing.T) {
	for _, f := range allFormaters(t) {
		t.Run(f.ContentType(), func(t *testing.T) {
			in := sampleQuote()
			enc, err := f.Format(in)
			require.NoError(t, err)

			var out models.Quote
			require.NoError(t, f.(Decoder).Decode(enc.Bytes(), &out))

			in.Route = ""
			assert.Equal(t, *in, out)
		})
	}
}

func TestJSON_FieldMapRoundTrip(t *testing.T) {
	in := models.FieldMap{
		models.KeySymbol:  models.StringValue("NVDA"),
		"(10)ASK":         models.DoubleValue(450),
		"(11)ASKSIZE":     models.IntValue(3),
		"(99)UNSUPPORTED": models.UnknownValue(),
	}

	enc, err := JSON{}.Format(in)
	require.NoError(t, err)
	assert.False(t, enc.IsBinary())
	assert.Equal(t, `{"(2)Symbol":"NVDA","(10)ASK":450.0,"(11)ASKSIZE":3,"(99)UNSUPPORTED":null}`, enc.String())

	var out models.FieldMap
	require.NoError(t, JSON{}.Decode(enc.Bytes(), &out))
	assert.Equal(t, in, out)
}

func TestMsgpack_Deterministic(t *testing.T) {
	m := models.FieldMap{}
	for _, k := range []string{"(10)A", "(12)B", "(13)C", "(447)D", "(2)Symbol"} {
		m[k] = models.IntValue(int64(len(k)))
	}

	f := NewMsgpack()
	first, err := f.Format(m)
	require.NoError(t, err)
	assert.True(t, first.IsBinary())
	for i := 0; i < 10; i++ {
		again, err := f.Format(m)
		require.NoError(t, err)
		assert.Equal(t, first.Bytes(), again.Bytes())
	}

	var out map[string]any
	require.NoError(t, f.Decode(first.Bytes(), &out))
	assert.Equal(t, int64(5), out["(10)A"])
}

func TestTOML_RejectsScalar(t *testing.T) {
	_, err := TOML{}.Format(42)
	require.Error(t, err)

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ContentTOML, fe.ContentType)
}

func TestJSON_ErrorIsFormatError(t *testing.T) {
	_, err := JSON{}.Format(make(chan int))
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New("xml")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEncoded(t *testing.T) {
	txt := Text("abc")
	assert.Equal(t, 3, txt.Len())
	assert.Equal(t, "abc", txt.String())

	bin := Binary([]byte{0xde, 0xad})
	assert.Equal(t, "dead", bin.String())
	assert.Equal(t, 2, bin.Len())
}
