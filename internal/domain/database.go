package domain

// DatabaseDriver represents the type of database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// ConnectionSpec is a connection definition as yielded by a source.
// ID is optional; when empty it defaults to Type+Name.
type ConnectionSpec struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ConnectionID returns the explicit ID or the Type+Name default.
// Defaulted IDs are only unique if names are unique per type.
func (s ConnectionSpec) ConnectionID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Type + s.Name
}

// Normalized returns a copy with the ID filled in.
func (s ConnectionSpec) Normalized() ConnectionSpec {
	s.ID = s.ConnectionID()
	return s
}

// ConnectionParams is the frontend-safe view of a live connection.
type ConnectionParams struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	SourceID string `json:"sourceId,omitempty"`
}

// HelperOptions scopes helper templates to a single relation.
type HelperOptions struct {
	Table           string `json:"table"`
	Schema          string `json:"schema"`
	Materialization string `json:"materialization"` // "table" | "view"
}
