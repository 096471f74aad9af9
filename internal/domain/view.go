package domain

// ReduceOp names a built-in reducer. Index logic is data, never code.
type ReduceOp string

const (
	ReduceNone  ReduceOp = ""
	ReduceSum   ReduceOp = "_sum"
	ReduceCount ReduceOp = "_count"
)

// ValueRule derives the emitted value of an index row. With an empty Field
// the value is null; otherwise the field's string form is looked up in
// Cases and Default applies when nothing matches.
type ValueRule struct {
	Field   string             `json:"field,omitempty"`
	Cases   map[string]float64 `json:"cases,omitempty"`
	Default float64            `json:"default,omitempty"`
}

// ViewSpec is a declarative secondary index: the key is built from
// KeyFields (a scalar for one field, an array otherwise). Documents lacking
// any key field are not indexed.
type ViewSpec struct {
	Name      string    `json:"name"`
	KeyFields []string  `json:"key"`
	Value     ValueRule `json:"value"`
	Reduce    ReduceOp  `json:"reduce,omitempty"`
}

// DesignDocument is the versioned set of views installed into a store.
type DesignDocument struct {
	ID      string     `json:"_id"`
	Rev     string     `json:"_rev,omitempty"`
	Version int        `json:"version"`
	Views   []ViewSpec `json:"views"`
}

// View returns the view definition named name.
func (d DesignDocument) View(name string) (ViewSpec, bool) {
	for _, v := range d.Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewSpec{}, false
}

// QueryOptions drives a view query. A nil Key means no exact-key filter.
type QueryOptions struct {
	Key          any
	StartKey     any
	EndKey       any
	ExclusiveEnd bool
	Descending   bool
	Skip         int
	Limit        int
	IncludeDocs  bool
	Reduce       *bool
	Group        bool
	GroupLevel   int
}

// Row is one result of a view query.
type Row struct {
	Key   any       `json:"key"`
	Value any       `json:"value"`
	ID    string    `json:"id,omitempty"`
	Doc   *Document `json:"doc,omitempty"`
}

// QueryResult is the answer to a view query.
type QueryResult struct {
	Rows      []Row `json:"rows"`
	TotalRows int   `json:"total_rows"`
	Offset    int   `json:"offset"`
}
