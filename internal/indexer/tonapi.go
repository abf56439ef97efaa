package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"nftwatch/internal/nft"
)

type Source string

const (
	// SourceHistory lists the latest NFT operations of an account (marketplace).
	SourceHistory Source = "history"
	// SourceCollection pages collection items by offset.
	SourceCollection Source = "collection"
)

type ClientConfig struct {
	Source     Source
	Account    string
	Collection string
}

// Client is the tonapi v2 reader used by the watcher.
type Client struct {
	f   *Fetcher
	cfg ClientConfig
}

func NewClient(f *Fetcher, cfg ClientConfig) *Client {
	if cfg.Source != SourceCollection {
		cfg.Source = SourceHistory
	}
	return &Client{f: f, cfg: cfg}
}

// Paged reports whether ListRecentItems honors offset.
func (c *Client) Paged() bool { return c.cfg.Source == SourceCollection }

// ListRecentItems returns up to limit item ids in indexer order, without
// duplicates. offset only applies to SourceCollection.
func (c *Client) ListRecentItems(ctx context.Context, offset int64, limit int) ([]string, error) {
	limit = min(max(limit, 1), 10)
	q := url.Values{"limit": {strconv.Itoa(limit)}}

	var ids []string
	switch c.cfg.Source {
	case SourceCollection:
		q.Set("offset", strconv.FormatInt(max(offset, 0), 10))
		body, err := c.f.Get(ctx, "nfts/collections/"+url.PathEscape(c.cfg.Collection)+"/items", q)
		if err != nil {
			return nil, err
		}
		var resp collectionItemsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("indexer: decode collection items: %w", err)
		}
		for _, it := range resp.NFTItems {
			ids = append(ids, it.Address)
		}
	default:
		body, err := c.f.Get(ctx, "accounts/"+url.PathEscape(c.cfg.Account)+"/nfts/history", q)
		if err != nil {
			return nil, err
		}
		var resp historyResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("indexer: decode history: %w", err)
		}
		for _, op := range resp.Operations {
			if op.Item != nil {
				ids = append(ids, op.Item.Address)
			}
		}
	}
	return uniqueIDs(ids, limit), nil
}

// GetItem fetches one item's details. Missing fields decode to zero values.
func (c *Client) GetItem(ctx context.Context, id string) (nft.Item, error) {
	id = strings.TrimSpace(id)
	body, err := c.f.Get(ctx, "nfts/"+url.PathEscape(id), nil)
	if err != nil {
		return nft.Item{}, err
	}
	var raw itemResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nft.Item{}, fmt.Errorf("indexer: decode item: %w", err)
	}
	return raw.toItem(id), nil
}

func uniqueIDs(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		k := nft.NormalizeID(id)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out
}

type historyResponse struct {
	Operations []struct {
		Item *struct {
			Address string `json:"address"`
		} `json:"item,omitempty"`
	} `json:"operations"`
}

type collectionItemsResponse struct {
	NFTItems []struct {
		Address string `json:"address"`
	} `json:"nft_items"`
}

type itemResponse struct {
	Address    string `json:"address"`
	Index      int64  `json:"index"`
	Collection *struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"collection,omitempty"`
	Metadata *struct {
		Name       string `json:"name"`
		Image      string `json:"image"`
		Attributes []struct {
			TraitType flexString `json:"trait_type"`
			Value     flexString `json:"value"`
		} `json:"attributes"`
	} `json:"metadata,omitempty"`
	Sale *struct {
		Price *struct {
			Value     flexString `json:"value"`
			TokenName string     `json:"token_name"`
		} `json:"price,omitempty"`
	} `json:"sale,omitempty"`
	Previews []struct {
		Resolution string `json:"resolution"`
		URL        string `json:"url"`
	} `json:"previews"`
}

func (r itemResponse) toItem(requested string) nft.Item {
	it := nft.Item{ID: r.Address, Index: r.Index}
	if it.ID == "" {
		it.ID = requested
	}
	if r.Collection != nil {
		it.CollectionAddress = r.Collection.Address
		it.CollectionName = r.Collection.Name
	}
	if r.Metadata != nil {
		it.DisplayName = r.Metadata.Name
		for _, a := range r.Metadata.Attributes {
			it.Attributes = append(it.Attributes, nft.Attribute{TraitType: string(a.TraitType), Value: string(a.Value)})
		}
	}
	if r.Sale != nil && r.Sale.Price != nil {
		if n, err := strconv.ParseUint(strings.TrimSpace(string(r.Sale.Price.Value)), 10, 64); err == nil {
			it.Sale = nft.PricedNano(n)
		}
	}

	bestW := -1
	for _, p := range r.Previews {
		if !strings.HasPrefix(p.URL, "https://") {
			continue
		}
		if w := previewWidth(p.Resolution); w > bestW {
			bestW = w
			it.ImageRef = p.URL
		}
	}
	if it.ImageRef == "" && r.Metadata != nil {
		it.ImageRef = strings.TrimSpace(r.Metadata.Image)
	}
	return it
}

// previewWidth parses the width of a "WxH" resolution; unknown is 0.
func previewWidth(res string) int {
	w, _, _ := strings.Cut(res, "x")
	n, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0
	}
	return n
}

// flexString accepts a JSON string, number or bool.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}
