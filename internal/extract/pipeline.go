// Package extract turns a rendered product page into a normalized
// crawler.ProductRecord.
//
// Extraction is an ordered chain of isolated readers. Each reader is a pure
// function of the page input and returns its own partial record; the pipeline
// merges partials left to right, keeping the first non-null value per field.
// A reader that errors or panics contributes nothing and the chain continues,
// so the pipeline itself never fails: the worst case is a record carrying only
// productId and url.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

const (
	defaultMaxImages   = 10
	defaultMaxCreators = 10
)

var errNotFound = errors.New("source not present")

// Input is everything a reader may look at.
type Input struct {
	URL   string
	State crawler.PageState
	Doc   *goquery.Document
}

// Reader is one data source in the fallback chain.
type Reader struct {
	Name string
	// Needed gates the reader on what is still missing; nil means always run.
	Needed func(crawler.ProductRecord) bool
	Read   func(Input) (crawler.ProductRecord, error)
}

// Options tunes the pipeline.
type Options struct {
	MaxImages       int
	MaxCreators     int
	IncludeCreators bool
}

// Pipeline runs the reader chain. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	readers []Reader
	opts    Options
	clock   crawler.Clock
	logger  *zap.Logger
}

// DefaultReaders returns the standard chain: linked data, hydration payload,
// state cache, then DOM.
func DefaultReaders() []Reader {
	return []Reader{
		{Name: "linked_data", Read: ReadLinkedData},
		{Name: "hydration", Needed: missingCore, Read: ReadHydration},
		{Name: "state_cache", Read: ReadStateCache},
		{Name: "dom", Read: ReadDOM},
	}
}

// New builds a Pipeline. A nil readers slice selects DefaultReaders.
func New(opts Options, clock crawler.Clock, logger *zap.Logger, readers ...Reader) *Pipeline {
	if opts.MaxImages <= 0 {
		opts.MaxImages = defaultMaxImages
	}
	if opts.MaxCreators <= 0 {
		opts.MaxCreators = defaultMaxCreators
	}
	if len(readers) == 0 {
		readers = DefaultReaders()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		readers: readers,
		opts:    opts,
		clock:   clock,
		logger:  logger,
	}
}

// Extract runs every reader and returns the merged record.
func (p *Pipeline) Extract(in Input) crawler.ProductRecord {
	var rec crawler.ProductRecord
	for _, r := range p.readers {
		if r.Needed != nil && !r.Needed(rec) {
			continue
		}
		partial, err := safeRead(r, in)
		if err != nil {
			if !errors.Is(err, errNotFound) {
				p.logger.Debug("reader failed", zap.String("reader", r.Name), zap.String("url", in.URL), zap.Error(err))
			}
			continue
		}
		merge(&rec, partial)
	}

	if p.opts.IncludeCreators && in.Doc != nil {
		creators, err := safeCreators(in, p.opts.MaxCreators)
		if err != nil {
			p.logger.Debug("creator scan failed", zap.String("url", in.URL), zap.Error(err))
		}
		rec.Creators = creators
	}

	p.finalize(&rec, in)
	return rec
}

func (p *Pipeline) finalize(rec *crawler.ProductRecord, in Input) {
	rec.URL = locator.CanonicalURL(in.URL)
	if rec.ProductID == "" {
		rec.ProductID = resolveProductID(rec.URL)
	}
	rec.Images = dedupeImages(rec.Images, in.URL, p.opts.MaxImages)
	if rec.Creators == nil {
		rec.Creators = []crawler.Creator{}
	}
	if p.clock != nil {
		rec.CapturedAt = p.clock.Now()
	} else {
		rec.CapturedAt = time.Now().UTC()
	}
}

// resolveProductID is the identifier fallback: URL path ID, then URL hash.
func resolveProductID(canonicalURL string) string {
	if id, ok := locator.ProductIDFromURL(canonicalURL); ok {
		return id
	}
	return locator.FallbackID(canonicalURL)
}

func safeRead(r Reader, in Input) (rec crawler.ProductRecord, err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			rec = crawler.ProductRecord{}
			err = fmt.Errorf("reader %s panicked: %v", r.Name, rcv)
		}
	}()
	return r.Read(in)
}

func safeCreators(in Input, limit int) (out []crawler.Creator, err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			out = []crawler.Creator{}
			err = fmt.Errorf("creator scan panicked: %v", rcv)
		}
	}()
	return ReadCreators(in.Doc, in.URL, limit), nil
}

func missingCore(rec crawler.ProductRecord) bool {
	return rec.ProductID == "" || rec.Title == nil || rec.Price.Current == nil
}

// merge fills every field of dst that is still unset from src.
func merge(dst *crawler.ProductRecord, src crawler.ProductRecord) {
	if dst.ProductID == "" {
		dst.ProductID = src.ProductID
	}
	fillString(&dst.Title, src.Title)
	fillString(&dst.Description, src.Description)
	fillFloat(&dst.Price.Current, src.Price.Current)
	fillFloat(&dst.Price.Original, src.Price.Original)
	fillString(&dst.Price.Currency, src.Price.Currency)
	if dst.Availability == nil {
		dst.Availability = src.Availability
	}
	fillFloat(&dst.Rating, src.Rating)
	if dst.ReviewCount == nil {
		dst.ReviewCount = src.ReviewCount
	}
	fillString(&dst.Seller.Handle, src.Seller.Handle)
	fillString(&dst.Seller.Name, src.Seller.Name)
	fillString(&dst.Seller.URL, src.Seller.URL)
	if len(dst.Images) == 0 && len(src.Images) > 0 {
		dst.Images = append([]string(nil), src.Images...)
	}
}

func fillString(dst **string, src *string) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}

func fillFloat(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}

func dedupeImages(images []string, base string, limit int) []string {
	out := make([]string, 0, len(images))
	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		abs, ok := locator.ResolveURL(base, img)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		if len(out) >= limit {
			break
		}
	}
	return out
}
