// Package definition resolves a contract transaction id into a
// ContractDefinition: fetching the transaction's tags and source,
// validating the recognized tag set, and applying any forced_src_tx_id
// override from an Evolve.
package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cuemby/warpengine/pkg/errs"
	"github.com/cuemby/warpengine/pkg/model"
)

// Recognized tag names.
const (
	TagContentType = "Content-Type"
	TagContractSrc = "Contract-Src"
	TagInitState   = "Init-State"
	TagInitStateTx = "Init-State-TX"
	TagManifest    = "Manifest"
	TagMinFee      = "Min-Fee"
	TagWasmLang    = "Wasm-Lang"
	TagWasmMeta    = "Wasm-Meta"
	TagTestnet     = "Testnet"
)

// allowedContentTypes gates what source content types this engine will
// accept.
var allowedContentTypes = map[string]bool{
	"application/javascript": true,
	"application/wasm":       true,
}

// TxFetcher is the minimal transaction-lookup surface definition.Loader needs:
// given a tx id, return its tags and, for a contract source transaction, its
// body. This is satisfied by a gateway or a direct network client; it is
// deliberately narrower than loader.Loader since definition resolution is a
// single-transaction lookup, not a sort-key range fetch.
type TxFetcher interface {
	Tags(ctx context.Context, txID string) ([]model.Tag, error)
	Data(ctx context.Context, txID string) ([]byte, error)
}

// Loader resolves ContractDefinitions.
type Loader struct {
	fetcher   TxFetcher
	testnet   bool // the environment this engine runs in; must match a contract's Testnet tag
}

// NewLoader returns a Loader fetching transaction data via fetcher. testnet
// selects which network environment this engine is running against, per the
// mainnet/testnet mismatch check below.
func NewLoader(fetcher TxFetcher, testnet bool) *Loader {
	return &Loader{fetcher: fetcher, testnet: testnet}
}

// Load resolves txID into a ContractDefinition. If forcedSrcTxID is non-empty
// (an Evolve rebind), the source is loaded from that transaction instead of
// whatever Contract-Src tag the contract transaction itself carries.
func (l *Loader) Load(ctx context.Context, txID string, forcedSrcTxID string) (*model.ContractDefinition, error) {
	tags, err := l.fetcher.Tags(ctx, txID)
	if err != nil {
		return nil, errs.New(errs.KindDefinition, "definition.Load", fmt.Errorf("fetching tags for %s: %w", txID, err))
	}

	def := &model.ContractDefinition{TxID: txID}
	tagged := tagMap(tags)

	contentType, ok := tagged[TagContentType]
	if !ok {
		return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s missing required tag %s", txID, TagContentType)
	}
	if !allowedContentTypes[contentType] {
		return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s has disallowed content type %q", txID, contentType)
	}
	def.Src.ContentType = contentType
	switch contentType {
	case "application/wasm":
		def.ContractType = model.ContractTypeWasm
	default:
		def.ContractType = model.ContractTypeJS
	}

	srcTxID := forcedSrcTxID
	if srcTxID == "" {
		srcTxID, ok = tagged[TagContractSrc]
		if !ok {
			return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s missing required tag %s", txID, TagContractSrc)
		}
	}
	def.SrcTxID = srcTxID
	def.Src.SrcTxID = srcTxID
	def.Src.Type = def.ContractType

	srcData, err := l.fetcher.Data(ctx, srcTxID)
	if err != nil {
		return nil, errs.New(errs.KindDefinition, "definition.Load", fmt.Errorf("fetching source %s for contract %s: %w", srcTxID, txID, err))
	}
	if def.ContractType == model.ContractTypeWasm {
		def.Src.Binary = srcData
	} else {
		def.Src.Code = string(srcData)
	}

	if initTx, ok := tagged[TagInitStateTx]; ok {
		data, err := l.fetcher.Data(ctx, initTx)
		if err != nil {
			return nil, errs.New(errs.KindDefinition, "definition.Load", fmt.Errorf("fetching init-state tx %s: %w", initTx, err))
		}
		def.InitState = json.RawMessage(data)
	} else if init, ok := tagged[TagInitState]; ok {
		def.InitState = json.RawMessage(init)
	} else {
		return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s has neither %s nor %s", txID, TagInitState, TagInitStateTx)
	}
	if !json.Valid(def.InitState) {
		return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s has malformed init-state JSON", txID)
	}

	if manifest, ok := tagged[TagManifest]; ok {
		def.Manifest = json.RawMessage(manifest)
	}
	def.MinFee = tagged[TagMinFee]
	def.WasmLanguage = tagged[TagWasmLang]

	if testnetTag, ok := tagged[TagTestnet]; ok {
		def.Testnet = testnetTag == "true"
		if def.Testnet != l.testnet {
			return nil, errs.Wrap(errs.KindDefinition, "definition.Load", "tx %s testnet=%v does not match engine environment testnet=%v", txID, def.Testnet, l.testnet)
		}
	}

	return def, nil
}

func tagMap(tags []model.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if _, exists := m[t.Name]; !exists {
			m[t.Name] = t.Value
		}
	}
	return m
}

// HTTPTxFetcher is a TxFetcher backed by a gateway's transaction endpoints,
// for deployments that resolve definitions directly rather than through the
// loader package's interaction-stream fetch path.
type HTTPTxFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTxFetcher returns a fetcher against baseURL using client (or
// http.DefaultClient if nil).
func NewHTTPTxFetcher(baseURL string, client *http.Client) *HTTPTxFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTxFetcher{baseURL: baseURL, client: client}
}

func (f *HTTPTxFetcher) Tags(ctx context.Context, txID string) ([]model.Tag, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/tx/"+txID+"/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tx %s: tags endpoint returned status %d", txID, resp.StatusCode)
	}
	var tags []model.Tag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (f *HTTPTxFetcher) Data(ctx context.Context, txID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/tx/"+txID+"/data", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tx %s: data endpoint returned status %d", txID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
