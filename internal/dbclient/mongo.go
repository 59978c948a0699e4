package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"dbconduit/internal/domain"
	"dbconduit/internal/log"
)

// mongoDriver implements Driver for MongoDB.
type mongoDriver struct {
	client *mongo.Client

	mu     sync.RWMutex
	dbName string
}

// mongoQuery is the JSON structure users write for MongoDB queries.
type mongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default), aggregate, insertOne, updateMany, deleteMany
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Document   map[string]any `json:"document,omitempty"`
	Update     map[string]any `json:"update,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
}

func newMongoDriver(uri string) (*mongoDriver, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoDriver{client: client, dbName: databaseFromURI(uri)}, nil
}

// databaseFromURI extracts the path database of mongodb[+srv]://user:pass@host/DB?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if atIdx := strings.LastIndex(rest, "@"); atIdx != -1 {
		rest = rest[atIdx+1:]
	}
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		path := rest[slashIdx+1:]
		if qIdx := strings.Index(path, "?"); qIdx != -1 {
			path = path[:qIdx]
		}
		if path != "" {
			return path
		}
	}
	return "test"
}

func (m *mongoDriver) database() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client.Database(m.dbName)
}

// unmarshalEJSON converts Extended JSON types ($oid, $date, ...) inside a field to BSON.
func unmarshalEJSON(field map[string]any) map[string]any {
	if field == nil {
		return nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return field
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		log.Logger.WithError(err).Debug("mongo: extended json parse")
		return field
	}
	result := make(map[string]any, len(doc))
	for _, elem := range doc {
		result[elem.Key] = elem.Value
	}
	return result
}

func parseMongoQuery(query string) (mongoQuery, error) {
	var mq mongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return mq, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return mq, fmt.Errorf("query must specify 'collection'")
	}
	mq.Filter = unmarshalEJSON(mq.Filter)
	mq.Document = unmarshalEJSON(mq.Document)
	mq.Update = unmarshalEJSON(mq.Update)
	mq.Projection = unmarshalEJSON(mq.Projection)
	mq.Sort = unmarshalEJSON(mq.Sort)
	if mq.Filter == nil {
		mq.Filter = map[string]any{}
	}
	if mq.Operation == "" {
		mq.Operation = "find"
	}
	return mq, nil
}

func (m *mongoDriver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoDriver) Query(ctx context.Context, query string) (Cursor, error) {
	mq, err := parseMongoQuery(query)
	if err != nil {
		return nil, err
	}
	coll := m.database().Collection(mq.Collection)

	switch mq.Operation {
	case "find":
		opts := options.Find()
		if mq.Projection != nil {
			opts.SetProjection(mq.Projection)
		}
		if mq.Sort != nil {
			opts.SetSort(mq.Sort)
		}
		if mq.Limit > 0 {
			opts.SetLimit(mq.Limit)
		}
		cur, err := coll.Find(ctx, mq.Filter, opts)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		return &mongoCursor{cursor: cur}, nil
	case "aggregate":
		pipeline := mq.Pipeline
		if pipeline == nil {
			pipeline = []any{}
		}
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
		return &mongoCursor{cursor: cur}, nil
	case "insertOne":
		if mq.Document == nil {
			return nil, fmt.Errorf("insertOne requires 'document'")
		}
		if _, err := coll.InsertOne(ctx, mq.Document); err != nil {
			return nil, fmt.Errorf("insertOne: %w", err)
		}
		return newAffectedCursor(1), nil
	case "updateMany":
		if mq.Update == nil {
			return nil, fmt.Errorf("updateMany requires 'update'")
		}
		res, err := coll.UpdateMany(ctx, mq.Filter, mq.Update)
		if err != nil {
			return nil, fmt.Errorf("updateMany: %w", err)
		}
		return newAffectedCursor(res.ModifiedCount), nil
	case "deleteMany":
		res, err := coll.DeleteMany(ctx, mq.Filter)
		if err != nil {
			return nil, fmt.Errorf("deleteMany: %w", err)
		}
		return newAffectedCursor(res.DeletedCount), nil
	default:
		return nil, fmt.Errorf("unsupported operation: %s", mq.Operation)
	}
}

// mongoCursor yields one row per document: the relaxed Extended JSON text.
type mongoCursor struct {
	cursor *mongo.Cursor
}

var mongoHeader = domain.Header{"document"}

func (c *mongoCursor) Header() domain.Header { return mongoHeader }

func (c *mongoCursor) Next(ctx context.Context) (domain.Row, error) {
	if !c.cursor.Next(ctx) {
		if err := c.cursor.Err(); err != nil {
			return nil, fmt.Errorf("cursor error: %w", err)
		}
		return nil, io.EOF
	}
	var doc bson.D
	if err := c.cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	text, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return domain.Row{string(text)}, nil
}

func (c *mongoCursor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.cursor.Close(ctx)
}

func (m *mongoDriver) Structure(ctx context.Context) ([]domain.StructureNode, error) {
	db := m.database()
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	children := make([]domain.StructureNode, 0, len(names))
	for _, n := range names {
		children = append(children, domain.StructureNode{
			Name:   n,
			Type:   domain.StructureTypeTable,
			Schema: db.Name(),
		})
	}
	return []domain.StructureNode{{
		Name:     db.Name(),
		Type:     domain.StructureTypeNone,
		Schema:   db.Name(),
		Children: children,
	}}, nil
}

func (m *mongoDriver) ListDatabases(ctx context.Context) (string, []string, error) {
	names, err := m.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return "", nil, fmt.Errorf("list databases: %w", err)
	}
	m.mu.RLock()
	current := m.dbName
	m.mu.RUnlock()

	var available []string
	for _, n := range names {
		if n != current {
			available = append(available, n)
		}
	}
	sort.Strings(available)
	return current, available, nil
}

func (m *mongoDriver) SelectDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	m.dbName = name
	m.mu.Unlock()
	return nil
}

func (m *mongoDriver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
