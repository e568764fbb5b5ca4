package documents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html><head><title>Launch day</title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
  <h1>We shipped it</h1>
  <p>The new   release is
     out today.</p>
  <p>It is faster.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestExtractArticle_UsesArticleContainer(t *testing.T) {
	a, err := ExtractArticle(samplePage)
	require.NoError(t, err)
	assert.Equal(t, "Launch day", a.Title)
	assert.Equal(t, "We shipped it\n\nThe new release is out today.\n\nIt is faster.", a.Text)
	assert.NotContains(t, a.Text, "Home")
	assert.NotContains(t, a.Text, "Copyright")
}

func TestExtractArticle_FallsBackToBody(t *testing.T) {
	a, err := ExtractArticle(`<html><body><div>Just   some text</div></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "", a.Title)
	assert.Equal(t, "Just some text", a.Text)
}

func TestExtractArticle_OpenGraphTitle(t *testing.T) {
	a, err := ExtractArticle(`<html><head><meta property="og:title" content="OG Title"><title>Plain</title></head><body><p>x</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "OG Title", a.Title)
}

func TestFetcher_FetchArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := NewFetcher()
	a, err := f.FetchArticle(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/post", a.URL)
	assert.Contains(t, a.Text, "It is faster.")

	_, err = f.FetchArticle(context.Background(), srv.URL+"/missing")
	var docErr *Error
	require.ErrorAs(t, err, &docErr)
	assert.Contains(t, docErr.Message, "404")
}

func TestFetcher_RejectsNonHTTP(t *testing.T) {
	_, err := NewFetcher().FetchArticle(context.Background(), "file:///etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid URL")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab…", Truncate("abc", 2))
}

func TestExtractPDF_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a pdf"), 0o600))

	_, err := ExtractPDF(context.Background(), path, 0)
	var docErr *Error
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "failed to open PDF", docErr.Message)
}
