package ingest

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/magpielabs/magpie/pkg/fault"
)

// IngestWeb fetches a page and pipes it through the standard pipeline
// as an HTML file named after its URL. The file id derives from the
// URL, so fetching the same page again replaces its previous record
// and vectors.
func (e *Engine) IngestWeb(ctx context.Context, pageURL, namespace string, onProgress ProgressFunc) (string, error) {
	if pageURL == "" || namespace == "" {
		return "", fault.New(fault.KindValidation, "url and namespace are required")
	}
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return "", fault.Wrapf(fault.KindValidation, op, err, "invalid url %q", pageURL)
	}

	body, err := e.fetchPage(ctx, pageURL)
	if err != nil {
		return "", err
	}

	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"\x00"+pageURL)).String()
	if _, err := e.register(ctx, id, pageURL, "source.html", body, namespace); err != nil {
		return "", err
	}
	return id, e.ProcessFile(ctx, id, namespace, onProgress)
}

func (e *Engine) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, op, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.fetch.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fault.Wrapf(fault.KindExternalService, op, err, "fetch %s", pageURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrapf(fault.KindExternalService, op, err, "fetch %s", pageURL)
	}
	if len(body) == 0 {
		return nil, fault.Newf(fault.KindEmptyDocument, "page %s is empty", pageURL)
	}
	return body, nil
}
