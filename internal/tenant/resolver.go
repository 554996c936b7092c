package tenant

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultHeader carries the tenant name on browser requests.
const DefaultHeader = "X-Tenant-Name"

// DefaultQueryParam is the query fallback for the tenant name.
const DefaultQueryParam = "client"

// ErrConflict is returned when two request locations name different tenants.
var ErrConflict = errors.New("tenant: conflicting tenant identifiers")

// Source records where a tenant name was found.
type Source int

const (
	// SourceUnresolved means no location named a tenant.
	SourceUnresolved Source = iota
	// SourceHeader means the tenant header named the tenant.
	SourceHeader
	// SourceQuery means the query parameter named the tenant.
	SourceQuery
	// SourceBody means the JSON body's client field named the tenant.
	SourceBody
)

func (s Source) String() string {
	switch s {
	case SourceHeader:
		return "header"
	case SourceQuery:
		return "query"
	case SourceBody:
		return "body"
	default:
		return "unresolved"
	}
}

// Resolution is the tagged outcome of tenant resolution.
type Resolution struct {
	Name   string
	Source Source
}

// Resolved reports whether a tenant was found.
func (r Resolution) Resolved() bool {
	return r.Source != SourceUnresolved && r.Name != ""
}

// Resolver resolves tenant names in a fixed order: header, then query parameter, then
// the body's client field. Preflight requests carry no body, so for them resolution
// may legitimately end unresolved.
type Resolver struct {
	HeaderName string
	QueryParam string
}

// NewResolver returns a resolver for the provided header name. If headerName is empty,
// DefaultHeader is used.
func NewResolver(headerName string) *Resolver {
	headerName = strings.TrimSpace(headerName)
	if headerName == "" {
		headerName = DefaultHeader
	}
	return &Resolver{HeaderName: headerName, QueryParam: DefaultQueryParam}
}

// Resolve finds the tenant for req. bodyClient is the body's client field, empty when
// the request has no body. When the body names a different tenant than an earlier
// location, ErrConflict is returned.
func (r *Resolver) Resolve(req *http.Request, bodyClient string) (Resolution, error) {
	if r == nil || req == nil {
		return Resolution{}, nil
	}
	bodyClient = Normalize(bodyClient)

	var res Resolution
	if name := Normalize(req.Header.Get(r.HeaderName)); name != "" {
		res = Resolution{Name: name, Source: SourceHeader}
	} else if name := Normalize(req.URL.Query().Get(r.queryParam())); name != "" {
		res = Resolution{Name: name, Source: SourceQuery}
	} else if bodyClient != "" {
		return Resolution{Name: bodyClient, Source: SourceBody}, nil
	} else {
		return Resolution{}, nil
	}
	if bodyClient != "" && bodyClient != res.Name {
		return res, ErrConflict
	}
	return res, nil
}

func (r *Resolver) queryParam() string {
	if r.QueryParam == "" {
		return DefaultQueryParam
	}
	return r.QueryParam
}

// Normalize canonicalises a tenant name for lookups and comparisons.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
