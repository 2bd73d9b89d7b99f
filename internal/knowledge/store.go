package knowledge

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/storage"
)

// Namespace partitions the knowledge base.
type Namespace string

const (
	NamespaceTransactions Namespace = "transactions"
	NamespaceOnboarding   Namespace = "onboarding"
	NamespaceDecisions    Namespace = "decisions"
	NamespaceRiskEvents   Namespace = "risk-events"
	NamespaceRules        Namespace = "rules"
)

// Namespaces returns every known namespace.
func Namespaces() []Namespace {
	return []Namespace{
		NamespaceTransactions, NamespaceOnboarding, NamespaceDecisions,
		NamespaceRiskEvents, NamespaceRules,
	}
}

// ValidNamespace reports whether ns is a known namespace.
func ValidNamespace(ns Namespace) bool {
	switch ns {
	case NamespaceTransactions, NamespaceOnboarding, NamespaceDecisions,
		NamespaceRiskEvents, NamespaceRules:
		return true
	}
	return false
}

// Record is the caller-supplied shape of a knowledge insert.
type Record struct {
	Text      string                 `json:"text"`
	Category  string                 `json:"category,omitempty"`
	SellerID  string                 `json:"seller_id,omitempty"`
	Domain    string                 `json:"domain,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	RiskScore float64                `json:"risk_score,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a stored knowledge item. Tokens are derived once at insert.
type Entry struct {
	KnowledgeID      string                 `json:"knowledge_id"`
	Namespace        Namespace              `json:"namespace"`
	Text             string                 `json:"text"`
	Tokens           []string               `json:"tokens"`
	Category         string                 `json:"category,omitempty"`
	SellerID         string                 `json:"seller_id,omitempty"`
	Domain           string                 `json:"domain,omitempty"`
	Outcome          string                 `json:"outcome,omitempty"`
	RiskScore        float64                `json:"risk_score,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
	ParentDocumentID string                 `json:"parent_document_id,omitempty"`
	ChunkIndex       int                    `json:"chunk_index,omitempty"`
	TotalChunks      int                    `json:"total_chunks,omitempty"`

	freq map[string]int
}

// Document is a full parent document persisted alongside its chunk entries
// so retrieval can expand a chunk hit to its source.
type Document struct {
	DocumentID string    `json:"document_id"`
	Namespace  Namespace `json:"namespace"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchResult is one scored hit.
type SearchResult struct {
	Entry      *Entry  `json:"entry"`
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Score      float64 `json:"score"`
}

// SearchOptions narrow a query.
type SearchOptions struct {
	Namespace Namespace
	SellerID  string
	Domain    string
	Outcome   string
	Category  string
	Limit     int
}

const defaultSearchLimit = 10

// recencyHalfLifeDays halves an entry's recency boost every 7 days.
const recencyHalfLifeDays = 7.0

// Base is the knowledge base: an in-memory search index write-through
// persisted to the storage layer.
type Base struct {
	store  storage.Store
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	nowFn func() time.Time
}

// NewBase creates a knowledge base over the given store.
func NewBase(store storage.Store, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		store:   store,
		logger:  logger,
		entries: make(map[string]*Entry),
		nowFn:   time.Now,
	}
}

// Load rehydrates the in-memory index from the storage layer.
func (b *Base) Load(ctx context.Context) error {
	keys, err := b.store.Keys(ctx, storage.BucketKnowledgeEntries, "")
	if err != nil {
		return errs.Wrap(errs.CodeUnavailable, "list knowledge entries", err)
	}

	loaded := 0
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		raw, err := b.store.Get(ctx, storage.BucketKnowledgeEntries, key)
		if err != nil {
			continue
		}
		entry := &Entry{}
		if err := json.Unmarshal(raw, entry); err != nil {
			b.logger.Warn("Skipping undecodable knowledge entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entry.freq = termFrequencies(entry.Tokens)
		b.entries[entry.KnowledgeID] = entry
		loaded++
	}
	b.logger.Info("Knowledge base loaded", zap.Int("entries", loaded))
	return nil
}

// AddKnowledge tokenizes and stores records under a namespace.
func (b *Base) AddKnowledge(ctx context.Context, namespace Namespace, records []Record) ([]*Entry, error) {
	if !ValidNamespace(namespace) {
		return nil, errs.InvalidArgument("unknown knowledge namespace: " + string(namespace))
	}

	entries := make([]*Entry, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.Text) == "" {
			return nil, errs.InvalidArgument("knowledge record requires text")
		}
		entry := &Entry{
			KnowledgeID: uuid.NewString(),
			Namespace:   namespace,
			Text:        record.Text,
			Tokens:      Tokenize(record.Text),
			Category:    record.Category,
			SellerID:    record.SellerID,
			Domain:      record.Domain,
			Outcome:     record.Outcome,
			RiskScore:   record.RiskScore,
			Metadata:    record.Metadata,
			Timestamp:   b.nowFn().UTC(),
		}
		if err := b.putEntry(ctx, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AddDocumentWithChunks persists the full document and one entry per chunk.
// Chunk entries carry the parent document id, their index and the total.
func (b *Base) AddDocumentWithChunks(ctx context.Context, namespace Namespace, title string, record Record) (*Document, []*Entry, error) {
	if !ValidNamespace(namespace) {
		return nil, nil, errs.InvalidArgument("unknown knowledge namespace: " + string(namespace))
	}
	if strings.TrimSpace(record.Text) == "" {
		return nil, nil, errs.InvalidArgument("document requires text")
	}

	chunks := ChunkText(record.Text)
	doc := &Document{
		DocumentID: uuid.NewString(),
		Namespace:  namespace,
		Title:      title,
		Text:       record.Text,
		ChunkCount: len(chunks),
		CreatedAt:  b.nowFn().UTC(),
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "encode knowledge document", err)
	}
	if err := b.store.Put(ctx, storage.BucketKnowledgeDocuments, doc.DocumentID, encoded); err != nil {
		return nil, nil, errs.Wrap(errs.CodeUnavailable, "persist knowledge document", err)
	}

	entries := make([]*Entry, 0, len(chunks))
	for i, chunk := range chunks {
		entry := &Entry{
			KnowledgeID:      chunkID(doc.DocumentID, i),
			Namespace:        namespace,
			Text:             chunk,
			Tokens:           Tokenize(chunk),
			Category:         record.Category,
			SellerID:         record.SellerID,
			Domain:           record.Domain,
			Outcome:          record.Outcome,
			RiskScore:        record.RiskScore,
			Metadata:         record.Metadata,
			Timestamp:        doc.CreatedAt,
			ParentDocumentID: doc.DocumentID,
			ChunkIndex:       i,
			TotalChunks:      len(chunks),
		}
		if err := b.putEntry(ctx, entry); err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}
	return doc, entries, nil
}

// GetDocument retrieves a parent document by id.
func (b *Base) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	raw, err := b.store.Get(ctx, storage.BucketKnowledgeDocuments, documentID)
	if err != nil {
		return nil, errs.NotFound("knowledge document", documentID)
	}
	doc := &Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "decode knowledge document", err)
	}
	return doc, nil
}

// GetEntry retrieves a single entry from the in-memory index.
func (b *Base) GetEntry(knowledgeID string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[knowledgeID]
	return entry, ok
}

// Count returns the number of indexed entries.
func (b *Base) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Search scores candidates with weighted Jaccard similarity plus a recency
// boost halving every 7 days; score = 0.7·similarity + 0.3·recency. An
// empty query returns the most recent matching entries. Only hits with
// score > 0 are returned, at most Limit of them.
func (b *Base) Search(query string, opts SearchOptions) []SearchResult {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	queryFreq := termFrequencies(Tokenize(query))
	now := b.nowFn().UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var results []SearchResult
	for _, entry := range b.entries {
		if !matchesFilters(entry, opts) {
			continue
		}
		recency := recencyBoost(entry.Timestamp, now)
		if len(queryFreq) == 0 {
			results = append(results, SearchResult{Entry: entry, Recency: recency, Score: recency})
			continue
		}
		similarity := weightedJaccard(queryFreq, entry.freq)
		score := 0.7*similarity + 0.3*recency
		if similarity == 0 {
			continue
		}
		results = append(results, SearchResult{
			Entry:      entry,
			Similarity: similarity,
			Recency:    recency,
			Score:      score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.KnowledgeID < results[j].Entry.KnowledgeID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score > 0 {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func (b *Base) putEntry(ctx context.Context, entry *Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "encode knowledge entry", err)
	}
	key := string(entry.Namespace) + ":" + entry.KnowledgeID
	if err := b.store.Put(ctx, storage.BucketKnowledgeEntries, key, encoded); err != nil {
		return errs.Wrap(errs.CodeUnavailable, "persist knowledge entry", err)
	}

	entry.freq = termFrequencies(entry.Tokens)
	b.mu.Lock()
	b.entries[entry.KnowledgeID] = entry
	b.mu.Unlock()
	return nil
}

func matchesFilters(entry *Entry, opts SearchOptions) bool {
	if opts.Namespace != "" && entry.Namespace != opts.Namespace {
		return false
	}
	if opts.SellerID != "" && entry.SellerID != opts.SellerID {
		return false
	}
	if opts.Domain != "" && entry.Domain != opts.Domain {
		return false
	}
	if opts.Outcome != "" && entry.Outcome != opts.Outcome {
		return false
	}
	if opts.Category != "" && entry.Category != opts.Category {
		return false
	}
	return true
}

func recencyBoost(timestamp, now time.Time) float64 {
	days := now.Sub(timestamp).Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Pow(0.5, days/recencyHalfLifeDays)
}
