package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/docmigrate/internal/core"
)

// Neo4jRepository stores documents as (:Document) nodes. Outbound reference
// targets are kept in the refs list property so dangling targets stay visible.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// Config holds Neo4j connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4j creates a new Neo4j repository
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jRepository{driver: driver, database: database}, nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EnsureIndexes creates the id constraint and type index
func (r *Neo4jRepository) EnsureIndexes(ctx context.Context) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE INDEX document_type IF NOT EXISTS FOR (d:Document) ON (d.type)`,
	}
	for _, stmt := range stmts {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("creating neo4j schema: %w", err)
		}
	}
	return nil
}

// GetDocument retrieves a document by id
func (r *Neo4jRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return readDocument(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Document), nil
}

// QueryDocuments returns documents matching q ordered by id, plus the unpaged total
func (r *Neo4jRepository) QueryDocuments(ctx context.Context, q core.Query) ([]*core.Document, int, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	var where []string
	params := map[string]any{"offset": q.Offset}
	if len(q.Types) > 0 {
		where = append(where, "d.type IN $types")
		params["types"] = q.Types
	}
	if len(q.IDs) > 0 {
		where = append(where, "d.id IN $ids")
		params["ids"] = q.IDs
	}
	if len(q.References) > 0 {
		where = append(where, "any(t IN d.refs WHERE t IN $refs)")
		params["refs"] = q.References
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	page := ""
	if q.Limit > 0 {
		page = "LIMIT $limit"
		params["limit"] = q.Limit
	}

	type queryResult struct {
		docs  []*core.Document
		total int
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		countRes, err := tx.Run(ctx, "MATCH (d:Document) "+clause+" RETURN count(d) AS total", params)
		if err != nil {
			return nil, err
		}
		var out queryResult
		if countRes.Next(ctx) {
			total, _ := countRes.Record().Get("total")
			if n, ok := total.(int64); ok {
				out.total = int(n)
			}
		}

		res, err := tx.Run(ctx, "MATCH (d:Document) "+clause+" RETURN d ORDER BY d.id SKIP $offset "+page, params)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			value, _ := res.Record().Get("d")
			doc, err := documentFromNode(value.(neo4j.Node))
			if err != nil {
				return nil, err
			}
			out.docs = append(out.docs, doc)
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	qr := result.(queryResult)
	return qr.docs, qr.total, nil
}

// CreateDocument inserts a new document; the id must be free
func (r *Neo4jRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	return r.write(ctx, doc.ID, func(existing *core.Document) (*core.Document, error) {
		if existing != nil {
			return nil, core.ErrAlreadyExists
		}
		return doc.Clone(), nil
	})
}

// PutDocument creates or replaces a document
func (r *Neo4jRepository) PutDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	return r.write(ctx, doc.ID, func(existing *core.Document) (*core.Document, error) {
		out := doc.Clone()
		if existing != nil {
			out.Created = existing.Created
		}
		return out, nil
	})
}

// PatchDocument applies p to an existing document
func (r *Neo4jRepository) PatchDocument(ctx context.Context, id string, p core.Patch) (*core.Document, error) {
	return r.write(ctx, id, func(existing *core.Document) (*core.Document, error) {
		if existing == nil {
			return nil, core.ErrNotFound
		}
		if p.IfRevision != "" && p.IfRevision != existing.Revision {
			return nil, core.ErrConflict
		}
		return p.Apply(existing), nil
	})
}

// DeleteDocument removes a document node
func (r *Neo4jRepository) DeleteDocument(ctx context.Context, id string) (bool, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			DETACH DELETE d
			RETURN count(*) AS deleted
		`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return false, res.Err()
		}
		n, _ := res.Record().Get("deleted")
		deleted, _ := n.(int64)
		return deleted > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (r *Neo4jRepository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// write reads the current node, lets mutate decide the new state and stores it in one transaction
func (r *Neo4jRepository) write(ctx context.Context, id string, mutate func(existing *core.Document) (*core.Document, error)) (*core.Document, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := readDocument(ctx, tx, id)
		if err != nil && err != core.ErrNotFound {
			return nil, err
		}

		doc, err := mutate(existing)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		doc.Revision = uuid.NewString()
		doc.Modified = now
		if doc.Created.IsZero() {
			doc.Created = now
		}

		// Convert fields to JSON string (Neo4j doesn't support nested maps)
		fieldsJSON, err := json.Marshal(doc.Fields)
		if err != nil {
			return nil, fmt.Errorf("marshaling fields: %w", err)
		}

		refs := core.TargetIDs(doc.References())
		if refs == nil {
			refs = []string{}
		}

		_, err = tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.type = $type,
			    d.revision = $revision,
			    d.fields = $fields,
			    d.refs = $refs,
			    d.created = $created,
			    d.modified = $modified
		`, map[string]any{
			"id":       doc.ID,
			"type":     doc.Type,
			"revision": doc.Revision,
			"fields":   string(fieldsJSON),
			"refs":     refs,
			"created":  doc.Created.Format(time.RFC3339Nano),
			"modified": doc.Modified.Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Document), nil
}

func readDocument(ctx context.Context, tx neo4j.ManagedTransaction, id string) (*core.Document, error) {
	res, err := tx.Run(ctx, `MATCH (d:Document {id: $id}) RETURN d`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, core.ErrNotFound
	}
	value, _ := res.Record().Get("d")
	return documentFromNode(value.(neo4j.Node))
}

func documentFromNode(n neo4j.Node) (*core.Document, error) {
	doc := &core.Document{}
	doc.ID, _ = n.Props["id"].(string)
	doc.Type, _ = n.Props["type"].(string)
	doc.Revision, _ = n.Props["revision"].(string)

	// Unmarshal fields JSON string back to ordered fields
	if fieldsStr, ok := n.Props["fields"].(string); ok && fieldsStr != "" {
		if err := json.Unmarshal([]byte(fieldsStr), &doc.Fields); err != nil {
			return nil, fmt.Errorf("unmarshaling fields of %s: %w", doc.ID, err)
		}
	}
	if s, ok := n.Props["created"].(string); ok {
		doc.Created, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := n.Props["modified"].(string); ok {
		doc.Modified, _ = time.Parse(time.RFC3339Nano, s)
	}
	return doc, nil
}
