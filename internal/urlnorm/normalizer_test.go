package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/News",
			want: "https://example.com/News",
		},
		{
			name: "strips www",
			in:   "https://www.example.com/a",
			want: "https://example.com/a",
		},
		{
			name: "strips tracking parameters",
			in:   "https://example.com/a?utm_source=x&utm_medium=y&fbclid=z",
			want: "https://example.com/a",
		},
		{
			name: "keeps and sorts other parameters",
			in:   "https://example.com/a?page=2&gclid=x&lang=en",
			want: "https://example.com/a?lang=en&page=2",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/a#section-3",
			want: "https://example.com/a",
		},
		{
			name: "strips single trailing slash",
			in:   "https://example.com/a/b/",
			want: "https://example.com/a/b",
		},
		{
			name: "preserves root path",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "surrounding whitespace",
			in:   "  https://example.com/a \n",
			want: "https://example.com/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fp, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, fp, 64)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	in := "HTTPS://WWW.Example.com/News/Today/?utm_campaign=c&b=2&a=1#top"

	once, fp1, err := Normalize(in)
	require.NoError(t, err)

	twice, fp2, err := Normalize(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, fp1, fp2)
}

func TestNormalize_FingerprintEquivalence(t *testing.T) {
	_, fp1, err := Normalize("https://example.com/a?utm_source=x")
	require.NoError(t, err)

	_, fp2, err := Normalize("https://example.com/a")
	require.NoError(t, err)

	_, fp3, err := Normalize("https://example.com/a#frag")
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Equal(t, fp1, fp3)
}

func TestNormalize_DistinctURLsDiffer(t *testing.T) {
	_, fp1, err := Normalize("https://example.com/a")
	require.NoError(t, err)

	_, fp2, err := Normalize("https://example.com/b")
	require.NoError(t, err)

	_, fp3, err := Normalize("https://other.com/a")
	require.NoError(t, err)

	assert.NotEqual(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"not a url",
		"/relative/path",
		"example.com/missing-scheme",
		"://nohost",
	} {
		_, _, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidURL, "input %q", in)
	}
}

func TestHost(t *testing.T) {
	host, err := Host("https://WWW.Example.com:8080/a?x=1")
	require.NoError(t, err)
	assert.Equal(t, "example.com:8080", host)

	_, err = Host("not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)
}
