package remote

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/auth"
)

// APIKey is the key pair used to sign run API requests.
type APIKey struct {
	Key    string
	Secret string
}

var ErrNoAPIKey = errors.New("api key and secret required")

type applicationInfo struct {
	ID     string `xml:"id"`
	Status string `xml:"status"`
}

type applicationList struct {
	Applications []applicationInfo `xml:"applications>ApplicationInfo"`
}

type runError struct {
	ErrorCode string `xml:"errorCode"`
	Message   string `xml:"message"`
}

// FetchApplicationStatuses lists the applications of account with their
// status, keyed by application id ("account/app").
func (c *Client) FetchApplicationStatuses(ctx context.Context, key APIKey, account string) (map[string]string, error) {
	if key.Key == "" || key.Secret == "" {
		return nil, ErrNoAPIKey
	}
	params := url.Values{}
	params.Set("action", "application.list")
	params.Set("account", account)
	params.Set("format", "xml")
	params.Set("v", c.apiVersion)
	params.Set("api_key", key.Key)
	params.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	params.Set("sig_version", auth.SignatureVersion)
	sig, err := c.signer.Sign(params, key.Secret)
	if err != nil {
		return nil, err
	}
	params.Set("sig", sig)

	u := *c.runURL
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("application.list: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	out, err := decodeApplicationList(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("application.list: %w", err)
	}
	return out, nil
}

func decodeApplicationList(status int, body io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(body)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if status != http.StatusOK {
				return nil, apierror.New("", http.StatusText(status), status)
			}
			return nil, errors.New("empty response")
		}
		if err != nil {
			if status != http.StatusOK {
				return nil, apierror.New("", http.StatusText(status), status)
			}
			return nil, fmt.Errorf("decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "error":
			var e runError
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, fmt.Errorf("decode error: %w", err)
			}
			return nil, apierror.New(e.ErrorCode, e.Message, status)
		case "ApplicationListResponse":
			if status != http.StatusOK {
				return nil, apierror.New("", http.StatusText(status), status)
			}
			var l applicationList
			if err := dec.DecodeElement(&l, &start); err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			out := make(map[string]string, len(l.Applications))
			for _, a := range l.Applications {
				out[a.ID] = a.Status
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unexpected element <%s>", start.Name.Local)
		}
	}
}
