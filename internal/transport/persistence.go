package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ilnaes/hyperpad/internal/relay"
	"github.com/ilnaes/hyperpad/internal/session"
	"github.com/ilnaes/hyperpad/internal/store"
)

// Persistence talks to the document and key endpoints of a relay for one
// document translation.
type Persistence struct {
	base   string
	ref    store.Ref
	client *http.Client
}

func NewPersistence(baseURL string, ref store.Ref, client *http.Client) *Persistence {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Persistence{base: baseURL, ref: ref, client: client}
}

func (p *Persistence) docURL() string {
	u := p.base + "/docs/" + url.PathEscape(p.ref.Doc)
	if p.ref.Locale != "" {
		u += "/" + url.PathEscape(p.ref.Locale)
	}
	return u
}

func (p *Persistence) do(ctx context.Context, method, u string, body interface{}, out interface{}) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusConflict {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res.StatusCode, err
		}
	}
	return res.StatusCode, nil
}

func (p *Persistence) Save(ctx context.Context, content, author, baseVersion string) (store.Revision, error) {
	var rev store.Revision
	status, err := p.do(ctx, http.MethodPost, p.docURL(), relay.SaveRequest{
		Content:     content,
		Author:      author,
		BaseVersion: baseVersion,
	}, &rev)
	if err != nil {
		return store.Revision{}, err
	}

	switch status {
	case http.StatusOK:
		return rev, nil
	case http.StatusConflict:
		return rev, fmt.Errorf("save %v: %w", p.ref, store.ErrVersionConflict)
	}
	return store.Revision{}, fmt.Errorf("save %v: status %d", p.ref, status)
}

func (p *Persistence) Reload(ctx context.Context) (store.Revision, error) {
	var rev store.Revision
	status, err := p.do(ctx, http.MethodGet, p.docURL(), nil, &rev)
	if err != nil {
		return store.Revision{}, err
	}

	switch status {
	case http.StatusOK:
		return rev, nil
	case http.StatusNotFound:
		return store.Revision{}, fmt.Errorf("reload %v: %w", p.ref, store.ErrNotFound)
	}
	return store.Revision{}, fmt.Errorf("reload %v: status %d", p.ref, status)
}

func (p *Persistence) Channels(ctx context.Context, editors ...string) ([]session.ChannelInfo, error) {
	reqs := make([]relay.KeyRequest, len(editors))
	for i, editor := range editors {
		reqs[i] = relay.KeyRequest{Doc: p.ref.Doc, Mod: p.ref.Locale, Editor: editor}
	}

	var keys relay.Keys
	status, err := p.do(ctx, http.MethodPost, p.base+"/keys", reqs, &keys)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("channel keys: status %d", status)
	}

	res := make([]session.ChannelInfo, 0, len(reqs))
	for _, req := range reqs {
		info, ok := keys.Get(req)
		if !ok {
			return nil, fmt.Errorf("channel keys: missing %s", req.Editor)
		}
		res = append(res, session.ChannelInfo{
			Path:      []string{req.Doc, req.Mod, req.Editor},
			Key:       info.Key,
			UserCount: info.Users,
		})
	}
	return res, nil
}
