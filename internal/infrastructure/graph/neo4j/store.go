// Package neo4j implements the property-graph side of the dual index. The
// taxonomy lives as :Taxonomy nodes (additionally labeled by level) joined by
// HAS_CHILD edges; documents own their chunks via HAS_CHUNK; chunks point at
// their taxonomy node via CLASSIFIED_AS and at extracted terms via MENTIONS;
// cross-document links are RELATES_TO edges carrying a strength property.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sirawit-k/pmqa-graphrag/internal/core/domain"
	"github.com/sirawit-k/pmqa-graphrag/internal/core/ports"
)

type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(ctx context.Context, uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Store{driver: driver, database: database}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureTaxonomy creates uniqueness constraints and merges every taxonomy
// node plus its parent edge. Safe to run on every startup; node names and
// descriptions are refreshed in place.
func (s *Store) EnsureTaxonomy(ctx context.Context, taxonomy *domain.Taxonomy) error {
	constraints := []string{
		"CREATE CONSTRAINT taxonomy_number IF NOT EXISTS FOR (n:Taxonomy) REQUIRE n.number IS UNIQUE",
		"CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE",
		"CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE",
		"CREATE CONSTRAINT keyword_text IF NOT EXISTS FOR (k:Keyword) REQUIRE k.text IS UNIQUE",
	}
	for _, stmt := range constraints {
		if err := s.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure constraint: %w", err)
		}
	}

	for _, node := range taxonomy.Nodes() {
		label, err := labelForLevel(node.Level)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(
			"MERGE (n:Taxonomy:%s {number: $number}) SET n.name = $name, n.description = $description",
			label,
		)
		params := map[string]any{
			"number":      node.Number,
			"name":        node.Name,
			"description": node.Description,
		}
		if err := s.write(ctx, query, params); err != nil {
			return fmt.Errorf("merge taxonomy node %s: %w", node.Number, err)
		}
		if node.ParentNumber == "" {
			continue
		}
		linkQuery := `
MATCH (p:Taxonomy {number: $parent})
MATCH (n:Taxonomy {number: $number})
MERGE (p)-[:HAS_CHILD]->(n)`
		linkParams := map[string]any{"parent": node.ParentNumber, "number": node.Number}
		if err := s.write(ctx, linkQuery, linkParams); err != nil {
			return fmt.Errorf("link taxonomy node %s: %w", node.Number, err)
		}
	}
	return nil
}

// ReplaceDocument swaps the document's chunk subtree atomically: old chunks
// are detached and deleted, the document node is merged with fresh
// properties, and the new chunks are created with their classification and
// keyword edges. Chunks start unvectorized; MarkChunksVectorized completes
// the dual write.
func (s *Store) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	chunkParams := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		keywords := make([]string, 0, len(chunk.Classification.Keywords))
		for _, kw := range chunk.Classification.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		chunkParams = append(chunkParams, map[string]any{
			"id":           chunk.ID,
			"index":        chunk.Index,
			"content":      chunk.Content,
			"start_offset": chunk.StartOffset,
			"end_offset":   chunk.EndOffset,
			"number":       chunk.Classification.Number,
			"confidence":   chunk.Classification.Confidence,
			"keywords":     keywords,
		})
	}

	query := `
MERGE (d:Document {id: $id})
SET d.title = $title,
    d.path = $path,
    d.category = $category,
    d.subcategory = $subcategory,
    d.criterion = $criterion,
    d.confidence = $confidence,
    d.created_at = $created_at,
    d.modified_at = $modified_at
WITH d
OPTIONAL MATCH (d)-[:HAS_CHUNK]->(old:Chunk)
DETACH DELETE old
WITH DISTINCT d
UNWIND $chunks AS ch
CREATE (c:Chunk {
    id: ch.id,
    index: ch.index,
    content: ch.content,
    start_offset: ch.start_offset,
    end_offset: ch.end_offset,
    vector_ref: ''
})
MERGE (d)-[:HAS_CHUNK]->(c)
WITH d, c, ch
CALL {
    WITH c, ch
    WITH c, ch WHERE ch.number <> ''
    MATCH (t:Taxonomy {number: ch.number})
    MERGE (c)-[r:CLASSIFIED_AS]->(t)
    SET r.confidence = ch.confidence
}
CALL {
    WITH c, ch
    UNWIND ch.keywords AS kw
    MERGE (k:Keyword {text: kw})
    MERGE (c)-[:MENTIONS]->(k)
}
RETURN count(c)`

	params := map[string]any{
		"id":          doc.ID,
		"title":       doc.Title,
		"path":        doc.StoragePath,
		"category":    doc.Category,
		"subcategory": doc.Subcategory,
		"criterion":   doc.Criterion,
		"confidence":  doc.Confidence,
		"created_at":  doc.CreatedAt.UTC(),
		"modified_at": doc.ModifiedAt.UTC(),
		"chunks":      chunkParams,
	}
	if err := s.write(ctx, query, params); err != nil {
		return fmt.Errorf("replace document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) MarkChunksVectorized(ctx context.Context, documentID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query := `
MATCH (:Document {id: $document_id})-[:HAS_CHUNK]->(c:Chunk)
WHERE c.id IN $chunk_ids
SET c.vector_ref = c.id`
	params := map[string]any{"document_id": documentID, "chunk_ids": chunkIDs}
	if err := s.write(ctx, query, params); err != nil {
		return fmt.Errorf("mark chunks vectorized: %w", err)
	}
	return nil
}

func (s *Store) LinkRelated(ctx context.Context, fromID, toID string, strength float64) error {
	query := `
MATCH (a:Document {id: $from})
MATCH (b:Document {id: $to})
MERGE (a)-[r:RELATES_TO]->(b)
SET r.strength = $strength
RETURN count(r) AS linked`
	params := map[string]any{"from": fromID, "to": toID, "strength": strength}

	records, err := s.writeReturning(ctx, query, params)
	if err != nil {
		return fmt.Errorf("link related documents: %w", err)
	}
	if len(records) == 0 || asInt(records[0].AsMap()["linked"]) == 0 {
		return domain.WrapError(domain.ErrNotFound, "link related documents",
			fmt.Errorf("document %s or %s not found", fromID, toID))
	}
	return nil
}

// DeleteDocumentCascade removes the document, its chunks, and any keyword
// nodes left orphaned, returning the deleted chunk ids so the caller can
// clean up the vector side.
func (s *Store) DeleteDocumentCascade(ctx context.Context, documentID string) ([]string, error) {
	query := `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
WITH d, collect(c) AS chunks, [ch IN collect(c) | ch.id] AS chunk_ids
FOREACH (ch IN chunks | DETACH DELETE ch)
DETACH DELETE d
WITH chunk_ids
OPTIONAL MATCH (k:Keyword)
WHERE NOT (k)<-[:MENTIONS]-()
DETACH DELETE k
RETURN chunk_ids`
	records, err := s.writeReturning(ctx, query, map[string]any{"id": documentID})
	if err != nil {
		return nil, fmt.Errorf("delete document cascade: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	raw, _ := records[0].AsMap()["chunk_ids"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// TraverseTaxonomy collects structural hits for one taxonomy node: chunks
// classified on the node itself, chunks classified on any descendant node,
// and chunks of documents one RELATES_TO hop away from a direct match.
func (s *Store) TraverseTaxonomy(
	ctx context.Context,
	number string,
	filter domain.SearchFilter,
	limit int,
) ([]ports.GraphHit, error) {
	var hits []ports.GraphHit

	directQuery := `
MATCH (t:Taxonomy {number: $number})<-[:CLASSIFIED_AS]-(c:Chunk)<-[:HAS_CHUNK]-(d:Document)
WHERE $category = '' OR d.category = $category
RETURN c.id AS chunk_id, c.content AS content,
       d.id AS document_id, d.title AS title, d.path AS path,
       d.category AS category, d.subcategory AS subcategory, d.criterion AS criterion,
       d.modified_at AS modified_at
ORDER BY d.modified_at DESC, c.id ASC
LIMIT $limit`
	params := map[string]any{"number": number, "category": filter.Category, "limit": limit}
	directHits, err := s.collectHits(ctx, directQuery, params, ports.MatchDirect, 0)
	if err != nil {
		return nil, fmt.Errorf("traverse direct: %w", err)
	}
	hits = append(hits, directHits...)

	descendantQuery := `
MATCH (t:Taxonomy {number: $number})-[:HAS_CHILD*1..]->(:Taxonomy)<-[:CLASSIFIED_AS]-(c:Chunk)<-[:HAS_CHUNK]-(d:Document)
WHERE $category = '' OR d.category = $category
RETURN DISTINCT c.id AS chunk_id, c.content AS content,
       d.id AS document_id, d.title AS title, d.path AS path,
       d.category AS category, d.subcategory AS subcategory, d.criterion AS criterion,
       d.modified_at AS modified_at
ORDER BY d.modified_at DESC, c.id ASC
LIMIT $limit`
	descendantHits, err := s.collectHits(ctx, descendantQuery, params, ports.MatchDescendant, 0)
	if err != nil {
		return nil, fmt.Errorf("traverse descendants: %w", err)
	}
	hits = append(hits, descendantHits...)

	relatedQuery := `
MATCH (t:Taxonomy {number: $number})<-[:CLASSIFIED_AS]-(:Chunk)<-[:HAS_CHUNK]-(src:Document)-[r:RELATES_TO]-(d:Document)
WHERE d <> src AND ($category = '' OR d.category = $category)
MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
RETURN DISTINCT c.id AS chunk_id, c.content AS content,
       d.id AS document_id, d.title AS title, d.path AS path,
       d.category AS category, d.subcategory AS subcategory, d.criterion AS criterion,
       d.modified_at AS modified_at, r.strength AS strength
ORDER BY r.strength DESC, c.id ASC
LIMIT $limit`
	relatedRecords, err := s.read(ctx, relatedQuery, params)
	if err != nil {
		return nil, fmt.Errorf("traverse related: %w", err)
	}
	for _, record := range relatedRecords {
		row := record.AsMap()
		hit := hitFromRow(row, ports.MatchRelated)
		hit.Strength = asFloat(row["strength"])
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) ChunksMentioning(ctx context.Context, keyword string, limit int) ([]ports.GraphHit, error) {
	query := `
MATCH (k:Keyword {text: $keyword})<-[:MENTIONS]-(c:Chunk)<-[:HAS_CHUNK]-(d:Document)
RETURN c.id AS chunk_id, c.content AS content,
       d.id AS document_id, d.title AS title, d.path AS path,
       d.category AS category, d.subcategory AS subcategory, d.criterion AS criterion,
       d.modified_at AS modified_at
ORDER BY d.modified_at DESC, c.id ASC
LIMIT $limit`
	params := map[string]any{
		"keyword": strings.ToLower(strings.TrimSpace(keyword)),
		"limit":   limit,
	}
	hits, err := s.collectHits(ctx, query, params, ports.MatchKeyword, 0)
	if err != nil {
		return nil, fmt.Errorf("chunks mentioning %q: %w", keyword, err)
	}
	return hits, nil
}

// DocumentKeywords aggregates MENTIONS occurrence counts across the
// document's chunks.
func (s *Store) DocumentKeywords(ctx context.Context, documentID string, limit int) ([]domain.Keyword, error) {
	query := `
MATCH (:Document {id: $id})-[:HAS_CHUNK]->(:Chunk)-[:MENTIONS]->(k:Keyword)
RETURN k.text AS text, count(*) AS count
ORDER BY count DESC, text ASC
LIMIT $limit`
	records, err := s.read(ctx, query, map[string]any{"id": documentID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("keywords for document %s: %w", documentID, err)
	}
	out := make([]domain.Keyword, 0, len(records))
	for _, record := range records {
		row := record.AsMap()
		out = append(out, domain.Keyword{
			Text:  asString(row["text"]),
			Count: asInt(row["count"]),
		})
	}
	return out, nil
}

func (s *Store) RelatedDocuments(
	ctx context.Context,
	documentID string,
	minStrength float64,
	limit int,
) ([]domain.RelatedDocument, error) {
	query := `
MATCH (d:Document {id: $id})-[r:RELATES_TO]-(o:Document)
WHERE r.strength >= $min_strength
RETURN o.id AS document_id, o.title AS title, r.strength AS strength
ORDER BY r.strength DESC, o.id ASC
LIMIT $limit`
	params := map[string]any{"id": documentID, "min_strength": minStrength, "limit": limit}

	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("related documents: %w", err)
	}
	out := make([]domain.RelatedDocument, 0, len(records))
	for _, record := range records {
		row := record.AsMap()
		out = append(out, domain.RelatedDocument{
			DocumentID: asString(row["document_id"]),
			Title:      asString(row["title"]),
			Strength:   asFloat(row["strength"]),
		})
	}
	return out, nil
}

// EvidenceForCriterion aggregates per document over the criterion's chunk
// classifications: the strongest chunk confidence becomes the evidence
// strength and its content the description.
func (s *Store) EvidenceForCriterion(ctx context.Context, number string, limit int) ([]domain.Evidence, error) {
	query := `
MATCH (:Taxonomy:Criterion {number: $number})<-[cl:CLASSIFIED_AS]-(:Chunk)<-[:HAS_CHUNK]-(d:Document)
WITH d, max(cl.confidence) AS strength
MATCH (d)-[:HAS_CHUNK]->(best:Chunk)-[bcl:CLASSIFIED_AS]->(:Taxonomy {number: $number})
WHERE bcl.confidence = strength
WITH d, strength, head(collect(best.content)) AS description
RETURN d.id AS id, d.title AS name, description, strength, d.created_at AS created_at
ORDER BY strength DESC, d.id ASC
LIMIT $limit`
	params := map[string]any{"number": number, "limit": limit}

	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("evidence for criterion %s: %w", number, err)
	}
	out := make([]domain.Evidence, 0, len(records))
	for _, record := range records {
		row := record.AsMap()
		out = append(out, domain.Evidence{
			ID:          asString(row["id"]),
			Name:        asString(row["name"]),
			Description: asString(row["description"]),
			Strength:    asFloat(row["strength"]),
			CreatedAt:   asTime(row["created_at"]),
		})
	}
	return out, nil
}

func (s *Store) UnvectorizedChunks(ctx context.Context, limit int) ([]domain.Chunk, error) {
	query := `
MATCH (d:Document)-[:HAS_CHUNK]->(c:Chunk)
WHERE c.vector_ref = ''
OPTIONAL MATCH (c)-[cl:CLASSIFIED_AS]->(t:Taxonomy)
RETURN c.id AS id, d.id AS document_id, c.index AS index, c.content AS content,
       c.start_offset AS start_offset, c.end_offset AS end_offset,
       t.number AS number, cl.confidence AS confidence
ORDER BY d.id ASC, c.index ASC
LIMIT $limit`
	records, err := s.read(ctx, query, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list unvectorized chunks: %w", err)
	}

	out := make([]domain.Chunk, 0, len(records))
	for _, record := range records {
		row := record.AsMap()
		out = append(out, domain.Chunk{
			ID:          asString(row["id"]),
			DocumentID:  asString(row["document_id"]),
			Index:       asInt(row["index"]),
			Content:     asString(row["content"]),
			StartOffset: asInt(row["start_offset"]),
			EndOffset:   asInt(row["end_offset"]),
			Classification: domain.ChunkClassification{
				Number:     asString(row["number"]),
				Confidence: asFloat(row["confidence"]),
			},
		})
	}
	return out, nil
}

func (s *Store) HasUnvectorizedChunks(ctx context.Context, documentID string) (bool, error) {
	query := `
MATCH (:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
WHERE c.vector_ref = ''
RETURN count(c) AS remaining`
	records, err := s.read(ctx, query, map[string]any{"id": documentID})
	if err != nil {
		return false, fmt.Errorf("count unvectorized chunks for %s: %w", documentID, err)
	}
	if len(records) == 0 {
		return false, nil
	}
	return asInt(records[0].AsMap()["remaining"]) > 0, nil
}

func (s *Store) collectHits(
	ctx context.Context,
	query string,
	params map[string]any,
	match ports.GraphMatch,
	strength float64,
) ([]ports.GraphHit, error) {
	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	hits := make([]ports.GraphHit, 0, len(records))
	for _, record := range records {
		hit := hitFromRow(record.AsMap(), match)
		hit.Strength = strength
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) write(ctx context.Context, query string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

func (s *Store) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

// writeReturning is for mutating statements whose result rows the caller
// needs, unlike write which only consumes the summary.
func (s *Store) writeReturning(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

func hitFromRow(row map[string]any, match ports.GraphMatch) ports.GraphHit {
	return ports.GraphHit{
		ChunkID:            asString(row["chunk_id"]),
		DocumentID:         asString(row["document_id"]),
		Snippet:            asString(row["content"]),
		DocumentTitle:      asString(row["title"]),
		DocumentPath:       asString(row["path"]),
		Category:           asString(row["category"]),
		Subcategory:        asString(row["subcategory"]),
		Criterion:          asString(row["criterion"]),
		Match:              match,
		DocumentModifiedAt: asTime(row["modified_at"]),
	}
}

func labelForLevel(level domain.TaxonomyLevel) (string, error) {
	switch level {
	case domain.LevelCategory:
		return "Category", nil
	case domain.LevelSubcategory:
		return "Subcategory", nil
	case domain.LevelCriterion:
		return "Criterion", nil
	}
	return "", fmt.Errorf("unknown taxonomy level %q", level)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
