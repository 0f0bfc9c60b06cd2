package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/loomworks/api/internal/config"
	"github.com/loomworks/api/internal/middleware"
)

// End-to-end smoke run against a locally running API: generate the same
// request twice and confirm the second response comes from the cache at zero
// cost, then read back the budget window and cache stats.
func main() {
	cfg := config.Load()
	base := "http://localhost:" + cfg.Port

	tenantID := uuid.New()
	token := mintToken(cfg.JWTSecret, tenantID)

	payload := map[string]interface{}{
		"description": "pricing card with three tiers and a highlighted plan",
		"format":      "component",
		"complexity":  3,
	}

	log.Printf("Tenant %s: first generation (expect miss)", tenantID)
	first := post(base+"/api/v1/generate", token, payload)
	if first["cache_hit"] == true {
		log.Fatalf("first request unexpectedly hit the cache")
	}
	log.Printf("provider=%v cost=%v", first["provider_used"], first["cost"])

	log.Println("Second generation (expect hit)")
	second := post(base+"/api/v1/generate", token, payload)
	if second["cache_hit"] != true {
		log.Fatalf("second request should hit the cache, got %v", second)
	}
	if cost, ok := second["cost"].(float64); !ok || cost != 0 {
		log.Fatalf("cache hit should cost 0, got %v", second["cost"])
	}
	log.Println("Cache hit confirmed at zero cost")

	window := get(base+"/api/v1/budget", token)
	log.Printf("Budget window: %v", window)

	stats := get(base+"/api/v1/cache/stats", token)
	log.Printf("Cache stats: %v", stats)

	fmt.Println("Smoke run passed")
}

func mintToken(secret string, tenantID uuid.UUID) string {
	claims := middleware.Claims{
		TenantID: tenantID,
		Tier:     "creator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func post(url, token string, payload map[string]interface{}) map[string]interface{} {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return do(req)
}

func get(url, token string) map[string]interface{} {
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return do(req)
}

func do(req *http.Request) map[string]interface{} {
	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("%s %s -> %d: %s", req.Method, req.URL.Path, resp.StatusCode, raw)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Fatalf("bad response body: %v", err)
	}
	return out
}
