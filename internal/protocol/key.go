package protocol

// CacheKey fingerprints a normalized query. It is a pure function of the
// request content and never depends on time or caller identity.
type CacheKey string

// Key prefixes used for targeted invalidation.
const (
	KeyList    CacheKey = "list"
	PrefixShow          = "show/"
	PrefixAll           = "all/"
)

// KeyFor returns the key of a normalized query.
func KeyFor(q Query) CacheKey {
	switch q := q.(type) {
	case ListProjects:
		return KeyList
	case ShowProject:
		return ShowKey(q.Name)
	case AllProjects:
		order := "asc"
		if q.Descending {
			order = "desc"
		}
		bench := "nobench"
		if q.Benchmark {
			bench = "bench"
		}
		return CacheKey(PrefixAll + string(q.SortBy) + "/" + order + "/" + bench)
	default:
		return ""
	}
}

// ShowKey is the key of the detail view for one project.
func ShowKey(name string) CacheKey {
	return CacheKey(PrefixShow + name)
}
