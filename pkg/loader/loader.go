// Package loader fetches interactions from a gateway. GatewayLoader
// talks to the REST interactions-sort-key endpoint with retry; GQLLoader
// talks to a GraphQL endpoint for the rarer case a gateway only exposes that;
// CachingLoader memoizes per-contract results across repeated reads within
// one process.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/cuemby/warpengine/pkg/errs"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

// Page is one page of interactions returned by a gateway fetch.
type Page struct {
	Interactions []model.Interaction
	HasMore      bool
	Cursor       string
}

// Loader fetches all interactions for a contract between two sort-keys
// (exclusive of fromSortKey, inclusive of toSortKey), confirmation-status
// filtered per opts.
type Loader interface {
	Fetch(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, opts FetchOptions) ([]model.Interaction, error)
}

// FetchOptions narrows a fetch to a source and/or confirmation statuses.
type FetchOptions struct {
	// Source restricts results to interactions from a given source identifier
	// (the gateway's own provenance tag), empty meaning no restriction.
	Source string
	// ConfirmationStatuses restricts results to the given statuses; empty
	// means the gateway's default (confirmed-or-unknown).
	ConfirmationStatuses []model.ConfirmationStatus
	// PageSize bounds how many interactions one gateway page returns.
	PageSize int
}

// GatewayLoader fetches paginated interactions from a single gateway's REST
// API over retryablehttp, so transient 5xx/connection failures are retried
// with backoff before surfacing a network error to the evaluator.
type GatewayLoader struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewGatewayLoader returns a loader against baseURL (e.g.
// "https://gateway.example.org"). A retryablehttp client is used so
// individual page fetches survive transient network blips without the
// evaluator having to retry a whole readState call.
func NewGatewayLoader(baseURL string) *GatewayLoader {
	client := retryablehttp.NewClient()
	client.Logger = nil // the teacher's components log through zerolog, not the library's own logger
	return &GatewayLoader{baseURL: baseURL, client: client}
}

const defaultPageSize = 500

// Fetch retrieves every interaction for contractTxID in (fromSortKey,
// toSortKey], paginating until the gateway reports no more pages.
func (l *GatewayLoader) Fetch(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, opts FetchOptions) ([]model.Interaction, error) {
	logger := log.WithContract(contractTxID)
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var all []model.Interaction
	cursor := ""
	for {
		page, err := l.fetchPage(ctx, contractTxID, fromSortKey, toSortKey, cursor, pageSize, opts)
		if err != nil {
			return nil, errs.New(errs.KindNetwork, "loader.Fetch", err)
		}
		all = append(all, page.Interactions...)
		logger.Debug().Int("page_size", len(page.Interactions)).Bool("has_more", page.HasMore).Msg("fetched interactions page")
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	return all, nil
}

func (l *GatewayLoader) fetchPage(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, cursor string, pageSize int, opts FetchOptions) (Page, error) {
	q := url.Values{}
	q.Set("contractId", contractTxID)
	if fromSortKey != sortkey.Genesis {
		q.Set("fromSortKey", string(fromSortKey))
	}
	if toSortKey != sortkey.Genesis {
		q.Set("toSortKey", string(toSortKey))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	for _, s := range opts.ConfirmationStatuses {
		q.Add("confirmationStatus", string(s))
	}

	endpoint := l.baseURL + "/gateway/interactions-sort-key?" + q.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, fmt.Errorf("loader: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("loader: request to %s failed: %w", l.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("loader: gateway %s returned status %d", l.baseURL, resp.StatusCode)
	}

	var body struct {
		Interactions []model.Interaction `json:"interactions"`
		HasMore      bool                `json:"hasMore"`
		Cursor       string              `json:"cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("loader: decoding response: %w", err)
	}
	return Page{Interactions: body.Interactions, HasMore: body.HasMore, Cursor: body.Cursor}, nil
}

// GQLLoader fetches interactions from a GraphQL gateway via a plain
// JSON-over-HTTP POST. No GraphQL client library surfaced anywhere in the
// retrieval pack (machinebox/graphql, Khan/genqlient, etc. are absent), and a
// GQL query against this one fixed shape doesn't need a schema-aware client,
// so this is a deliberate, narrow stdlib fallback rather than a borrowed
// dependency.
type GQLLoader struct {
	endpoint string
	client   *http.Client
}

// NewGQLLoader returns a loader posting queries to endpoint.
func NewGQLLoader(endpoint string, client *http.Client) *GQLLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &GQLLoader{endpoint: endpoint, client: client}
}

const interactionsQuery = `
query($contractId: String!, $from: String, $to: String, $after: String) {
  transactions(tags: [{name: "Contract", values: [$contractId]}], sortKey_gt: $from, sortKey_lte: $to, after: $after) {
    edges { cursor node { id owner { address } tags { name value } block { height id timestamp } } }
    pageInfo { hasNextPage }
  }
}`

func (l *GQLLoader) Fetch(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, opts FetchOptions) ([]model.Interaction, error) {
	var all []model.Interaction
	after := ""
	for {
		page, err := l.fetchPage(ctx, contractTxID, fromSortKey, toSortKey, after)
		if err != nil {
			return nil, errs.New(errs.KindNetwork, "loader.GQLFetch", err)
		}
		all = append(all, page.Interactions...)
		if !page.HasMore {
			break
		}
		after = page.Cursor
	}
	return all, nil
}

func (l *GQLLoader) fetchPage(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, after string) (Page, error) {
	reqBody, err := json.Marshal(map[string]any{
		"query": interactionsQuery,
		"variables": map[string]any{
			"contractId": contractTxID,
			"from":       string(fromSortKey),
			"to":         string(toSortKey),
			"after":      after,
		},
	})
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("loader: gql endpoint %s returned status %d", l.endpoint, resp.StatusCode)
	}

	var body struct {
		Data struct {
			Transactions struct {
				Edges []struct {
					Cursor string `json:"cursor"`
					Node   struct {
						ID    string `json:"id"`
						Owner struct {
							Address string `json:"address"`
						} `json:"owner"`
						Tags  []model.Tag `json:"tags"`
						Block struct {
							Height    uint64 `json:"height"`
							ID        string `json:"id"`
							Timestamp int64  `json:"timestamp"`
						} `json:"block"`
					} `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"transactions"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, err
	}

	page := Page{HasMore: body.Data.Transactions.PageInfo.HasNextPage}
	for _, e := range body.Data.Transactions.Edges {
		page.Cursor = e.Cursor
		page.Interactions = append(page.Interactions, model.Interaction{
			ID:           e.Node.ID,
			OwnerAddress: e.Node.Owner.Address,
			Tags:         e.Node.Tags,
			Block: model.Block{
				Height:    e.Node.Block.Height,
				ID:        e.Node.Block.ID,
				Timestamp: time.UnixMilli(e.Node.Block.Timestamp),
			},
		})
	}
	return page, nil
}

// CachingLoader wraps a Loader with a per-contract, per-range in-memory
// cache so that repeated reads of the same contract within one process (e.g.
// several internal reads during one root readState call) don't re-fetch.
type CachingLoader struct {
	inner Loader
	mu    sync.Mutex
	cache map[string][]model.Interaction // contractTxID -> full fetched run, extended incrementally
	upTo  map[string]sortkey.Key
}

// NewCachingLoader wraps inner.
func NewCachingLoader(inner Loader) *CachingLoader {
	return &CachingLoader{
		inner: inner,
		cache: make(map[string][]model.Interaction),
		upTo:  make(map[string]sortkey.Key),
	}
}

// Fetch returns cached interactions for contractTxID up to toSortKey,
// extending the cached range with a single incremental fetch if toSortKey
// extends past what's cached. fromSortKey is never passed to the inner
// loader: the cache always starts at genesis, and fromSortKey only filters
// the cached range that Fetch serves.
func (l *CachingLoader) Fetch(ctx context.Context, contractTxID string, fromSortKey, toSortKey sortkey.Key, opts FetchOptions) ([]model.Interaction, error) {
	l.mu.Lock()
	cached, haveCached := l.cache[contractTxID]
	cachedUpTo, haveUpTo := l.upTo[contractTxID]
	l.mu.Unlock()

	if !haveCached || !haveUpTo || sortkey.Less(cachedUpTo, toSortKey) {
		from := sortkey.Genesis
		if haveUpTo {
			from = cachedUpTo
		}
		fresh, err := l.inner.Fetch(ctx, contractTxID, from, toSortKey, opts)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		cached = append(cached, fresh...)
		l.cache[contractTxID] = cached
		l.upTo[contractTxID] = toSortKey
		l.mu.Unlock()
	}

	out := make([]model.Interaction, 0, len(cached))
	for _, i := range cached {
		key := i.EffectiveSortKey()
		if sortkey.Less(fromSortKey, key) && sortkey.Compare(key, toSortKey) <= 0 {
			out = append(out, i)
		}
	}
	return out, nil
}
