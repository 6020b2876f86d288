// Package protocol defines the request/reply messages exchanged with the
// worker pool, the error values carried in replies and the cache key
// derived from each request.
package protocol

import (
	"errors"
	"strings"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// Query is the closed set of read operations. Only the types in this
// package implement it.
type Query interface {
	isQuery()
}

// ListProjects asks for the cheap project index.
type ListProjects struct{}

// ShowProject asks for one project's full metrics.
type ShowProject struct {
	Name string
}

// AllProjects asks for the sorted cross-project report.
type AllProjects struct {
	SortBy     model.SortColumn
	Descending bool
	Benchmark  bool
}

func (ListProjects) isQuery() {}
func (ShowProject) isQuery()  {}
func (AllProjects) isQuery()  {}

// Reply carries exactly one of Payload or Err.
type Reply struct {
	Payload []byte
	Err     *DataError
	// Cached is true when Payload came straight from the response cache.
	Cached bool
	// Digest is the xxhash64 of Payload.
	Digest uint64
}

// DataRequest is one inbound message. Reply must be buffered with room for
// a single value; the pool never blocks on it.
type DataRequest struct {
	Query       Query
	BypassCache bool
	Reply       chan<- Reply
}

// NewRequest builds a request together with its single-use reply channel.
func NewRequest(q Query, bypass bool) (DataRequest, <-chan Reply) {
	ch := make(chan Reply, 1)
	return DataRequest{Query: q, BypassCache: bypass, Reply: ch}, ch
}

// Normalize validates q and returns its canonical form. Two queries with
// the same meaning normalize to equal values and therefore share a key.
func Normalize(q Query) (Query, error) {
	switch q := q.(type) {
	case ListProjects:
		return q, nil
	case *ListProjects:
		return ListProjects{}, nil
	case ShowProject:
		name := strings.TrimSpace(q.Name)
		if name == "" {
			return nil, Invalid("project name is required")
		}
		return ShowProject{Name: name}, nil
	case *ShowProject:
		if q == nil {
			return nil, Invalid("empty query")
		}
		return Normalize(*q)
	case AllProjects:
		col, err := model.ParseSortColumn(string(q.SortBy), q.Benchmark)
		if err != nil {
			return nil, Invalid(err.Error())
		}
		return AllProjects{SortBy: col, Descending: q.Descending, Benchmark: q.Benchmark}, nil
	case *AllProjects:
		if q == nil {
			return nil, Invalid("empty query")
		}
		return Normalize(*q)
	case nil:
		return nil, Invalid("empty query")
	default:
		return nil, Invalid("unsupported query")
	}
}

// ErrUnknownQuery is returned by dispatchers that meet a Query they do not handle.
var ErrUnknownQuery = errors.New("unknown query type")
