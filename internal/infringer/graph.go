package infringer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/imageguard/guardian/internal/models"
)

// Graph maintains the seller relationship graph: Seller and Asset nodes with
// INFRINGES edges, used to surface repeat offenders and clusters of sellers
// hitting the same product lines.
type Graph struct {
	driver neo4j.DriverWithContext
}

type GraphConfig struct {
	URI      string
	Username string
	Password string
}

func NewGraph(cfg GraphConfig) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:Seller) ON (n.key)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Seller) ON (n.riskLevel)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Asset) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Listing) ON (n.id)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

func sellerKey(platform models.Platform, sellerID string) string {
	return string(platform) + ":" + sellerID
}

func (g *Graph) UpsertSeller(ctx context.Context, profile *models.InfringerProfile) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (s:Seller {key: $key})
		SET s.platform = $platform,
			s.sellerId = $sellerId,
			s.sellerName = $sellerName,
			s.violationCount = $violationCount,
			s.estimatedRevenue = $estimatedRevenue,
			s.riskScore = $riskScore,
			s.riskLevel = $riskLevel
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"key":              sellerKey(profile.Platform, profile.SellerID),
		"platform":         string(profile.Platform),
		"sellerId":         profile.SellerID,
		"sellerName":       profile.SellerName,
		"violationCount":   profile.ViolationCount,
		"estimatedRevenue": profile.EstimatedRevenue,
		"riskScore":        profile.RiskScore,
		"riskLevel":        string(profile.RiskLevel),
	})

	return err
}

func (g *Graph) UpsertAsset(ctx context.Context, asset *models.Asset) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (a:Asset {id: $id})
		SET a.fileName = $fileName,
			a.brandName = $brandName,
			a.productSku = $productSku,
			a.status = $status
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":         asset.ID.String(),
		"fileName":   asset.FileName,
		"brandName":  asset.BrandName,
		"productSku": asset.ProductSKU,
		"status":     string(asset.Status),
	})

	return err
}

// RecordInfringement links a seller to the asset it infringed, annotated
// with the strongest observed similarity.
func (g *Graph) RecordInfringement(ctx context.Context, v *models.Violation) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (s:Seller {key: $key})
		SET s.platform = $platform, s.sellerId = $sellerId, s.sellerName = $sellerName
		MERGE (a:Asset {id: $assetId})
		MERGE (s)-[r:INFRINGES]->(a)
		SET r.score = CASE WHEN r.score IS NULL OR r.score < $score THEN $score ELSE r.score END,
			r.level = $level,
			r.listingId = $listingId,
			r.detectedAt = $detectedAt
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"key":        sellerKey(v.Platform, v.SellerID),
		"platform":   string(v.Platform),
		"sellerId":   v.SellerID,
		"sellerName": v.SellerName,
		"assetId":    v.AssetID.String(),
		"score":      v.Overall,
		"level":      string(v.Level),
		"listingId":  v.ListingID,
		"detectedAt": v.DetectedAt.Unix(),
	})

	return err
}

// RelatedSeller is a seller connected to the given one through shared
// infringed assets.
type RelatedSeller struct {
	Platform     string
	SellerID     string
	SellerName   string
	SharedAssets int
	RiskLevel    string
}

// FindRelatedSellers returns sellers infringing the same assets as the given
// seller, ranked by overlap. Overlapping sellers across platforms often turn
// out to be the same operation.
func (g *Graph) FindRelatedSellers(ctx context.Context, platform models.Platform, sellerID string, limit int) ([]RelatedSeller, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if limit <= 0 {
		limit = 20
	}

	query := `
		MATCH (s:Seller {key: $key})-[:INFRINGES]->(a:Asset)<-[:INFRINGES]-(other:Seller)
		WHERE other.key <> $key
		RETURN other.platform as platform,
			   other.sellerId as sellerId,
			   other.sellerName as sellerName,
			   coalesce(other.riskLevel, '') as riskLevel,
			   count(DISTINCT a) as sharedAssets
		ORDER BY sharedAssets DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"key":   sellerKey(platform, sellerID),
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var related []RelatedSeller
	for result.Next(ctx) {
		rec := result.Record()
		p, _ := rec.Get("platform")
		id, _ := rec.Get("sellerId")
		name, _ := rec.Get("sellerName")
		risk, _ := rec.Get("riskLevel")
		shared, _ := rec.Get("sharedAssets")

		related = append(related, RelatedSeller{
			Platform:     p.(string),
			SellerID:     id.(string),
			SellerName:   name.(string),
			RiskLevel:    risk.(string),
			SharedAssets: int(shared.(int64)),
		})
	}

	return related, nil
}

// TargetedSeller is one seller hitting a given asset.
type TargetedSeller struct {
	Platform   string
	SellerID   string
	SellerName string
	Score      float64
	Level      string
}

// FindAssetInfringers returns every seller with an INFRINGES edge to the
// asset, strongest match first.
func (g *Graph) FindAssetInfringers(ctx context.Context, assetID uuid.UUID) ([]TargetedSeller, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (s:Seller)-[r:INFRINGES]->(a:Asset {id: $assetId})
		RETURN s.platform as platform,
			   s.sellerId as sellerId,
			   s.sellerName as sellerName,
			   r.score as score,
			   r.level as level
		ORDER BY r.score DESC
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"assetId": assetID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var sellers []TargetedSeller
	for result.Next(ctx) {
		rec := result.Record()
		p, _ := rec.Get("platform")
		id, _ := rec.Get("sellerId")
		name, _ := rec.Get("sellerName")
		score, _ := rec.Get("score")
		level, _ := rec.Get("level")

		sellers = append(sellers, TargetedSeller{
			Platform:   p.(string),
			SellerID:   id.(string),
			SellerName: name.(string),
			Score:      score.(float64),
			Level:      level.(string),
		})
	}

	return sellers, nil
}

// GraphStats summarizes the seller graph.
type GraphStats struct {
	Sellers      int
	Assets       int
	Infringements int
	CriticalSellers int
}

func (g *Graph) GetStats(ctx context.Context) (*GraphStats, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (s:Seller)
		OPTIONAL MATCH (s)-[r:INFRINGES]->()
		RETURN count(DISTINCT s) as sellers,
			   count(r) as infringements,
			   count(DISTINCT CASE WHEN s.riskLevel = 'critical' THEN s END) as criticalSellers
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	stats := &GraphStats{}
	if result.Next(ctx) {
		rec := result.Record()
		sellers, _ := rec.Get("sellers")
		infringements, _ := rec.Get("infringements")
		critical, _ := rec.Get("criticalSellers")
		stats.Sellers = int(sellers.(int64))
		stats.Infringements = int(infringements.(int64))
		stats.CriticalSellers = int(critical.(int64))
	}

	countQuery := `MATCH (a:Asset) RETURN count(a) as assets`
	result, err = session.Run(ctx, countQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	if result.Next(ctx) {
		assets, _ := result.Record().Get("assets")
		stats.Assets = int(assets.(int64))
	}

	return stats, nil
}
