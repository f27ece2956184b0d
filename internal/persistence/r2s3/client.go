// Package r2s3 copies snapshot files to an S3-compatible bucket (Cloudflare
// R2, MinIO, S3) using SigV4-signed PUT and DELETE requests.
package r2s3

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	defaultRegion  = "auto"
)

// emptyHash is the SHA-256 of an empty payload.
var emptyHash = sha256Hex(nil)

type Client struct {
	endpoint        string
	bucket          string
	region          string
	accessKeyID     string
	secretAccessKey string
	httpClient      *http.Client
	now             func() time.Time
}

// New builds a path-style client. An endpoint without a scheme gets https.
func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("endpoint/bucket/access key/secret key are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	return &Client{
		endpoint:        strings.TrimRight(u.String(), "/"),
		bucket:          bucket,
		region:          defaultRegion,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		httpClient:      &http.Client{Timeout: time.Minute},
		now:             time.Now,
	}, nil
}

// WithRegion overrides the signing region; R2 accepts "auto".
func (c *Client) WithRegion(region string) *Client {
	if region = strings.TrimSpace(region); region != "" {
		c.region = region
	}
	return c
}

// PutFile uploads localPath under key. Snapshot documents are small, so the
// body is read into memory to hash and send it.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, body, "application/json")
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	req, err := c.newRequest(ctx, http.MethodPut, key, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	return c.do(req, sha256Hex(body), key)
}

// Delete removes key. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	return c.do(req, emptyHash, key)
}

func (c *Client) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	key = normalizeObjectKey(key)
	if key == "" {
		return nil, fmt.Errorf("empty object key")
	}
	return http.NewRequestWithContext(ctx, method, c.endpoint+c.canonicalURI(key), body)
}

func (c *Client) canonicalURI(key string) string {
	return "/" + c.bucket + "/" + escapePath(normalizeObjectKey(key))
}

func (c *Client) do(req *http.Request, payloadHash, key string) error {
	c.sign(req, payloadHash)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 || (req.Method == http.MethodDelete && resp.StatusCode == http.StatusNotFound) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("r2 %s failed status=%d key=%s body=%s",
		strings.ToLower(req.Method), resp.StatusCode, key, strings.TrimSpace(string(body)))
}

// sign adds the SigV4 headers over host, payload hash and date.
func (c *Client) sign(req *http.Request, payloadHash string) {
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	const signedHeaders = "host;x-amz-content-sha256;x-amz-date"
	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, c.region, sigV4Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{sigV4Algorithm, amzDate, scope, sha256Hex([]byte(canonicalRequest))}, "\n")

	key := deriveSigningKey(c.secretAccessKey, dateStamp, c.region, sigV4Service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, c.accessKeyID, scope, signedHeaders, signature))
}

// normalizeObjectKey cleans key and rejects anything escaping the bucket root.
func normalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." || clean == "" {
		return ""
	}
	return clean
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
