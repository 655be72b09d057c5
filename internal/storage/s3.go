package storage

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
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// S3Config carries the connection settings for an S3-compatible object
// store backend. No AWS SDK exists anywhere in the dependency corpus this
// project draws from, so this backend signs requests itself with SigV4
// over the standard library's net/http and crypto/hmac — the one core
// component built on the standard library alone (see DESIGN.md).
type S3Config struct {
	Endpoint        string // e.g. "https://s3.us-west-000.backblazeb2.com"
	Bucket          string
	Region          string // defaults to "auto"
	AccessKeyID     string
	SecretAccessKey string
}

// S3 is a Backend implementation over an S3-compatible object store,
// addressed path-style as <endpoint>/<bucket>/<key>; virtual-hosted
// bucket addressing is not used. Object keys are the
// backend-relative paths; "directories" are a listing convention (a
// trailing "/" delimiter query), not a stored object type.
type S3 struct {
	cfg    S3Config
	client *http.Client
	retry  retryConfig
}

// NewS3 constructs an S3-compatible backend from cfg.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	return &S3{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		retry:  defaultRetry,
	}, nil
}

func (s *S3) Resolve(parts ...string) string {
	return path.Join(parts...)
}

func (s *S3) objectURL(key string) string {
	return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + strings.TrimLeft(key, "/")
}

func (s *S3) FileExists(ctx context.Context, key string) (bool, error) {
	req, err := s.newRequest(ctx, http.MethodHead, key, nil)
	if err != nil {
		return false, err
	}
	var exists bool
	err = withRetry(ctx, s.retry, func() error {
		resp, doErr := s.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			exists = true
			return nil
		case http.StatusNotFound:
			exists = false
			return nil
		default:
			return fmt.Errorf("storage: s3 HEAD %s: unexpected status %d", key, resp.StatusCode)
		}
	})
	return exists, err
}

// DirectoryExists reports whether any object exists under key as a prefix.
// S3-compatible stores have no real directories.
func (s *S3) DirectoryExists(ctx context.Context, key string) (bool, error) {
	entries, err := s.List(ctx, key, ListOptions{Deep: false})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (s *S3) ReadToBytes(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, s.retry, func() error {
		req, reqErr := s.newRequest(ctx, http.MethodGet, key, nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := s.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return &NotFoundError{Path: key}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("storage: s3 GET %s: unexpected status %d", key, resp.StatusCode)
		}
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		data = b
		return nil
	})
	return data, err
}

func (s *S3) ReadToString(ctx context.Context, key string) (string, error) {
	data, err := s.ReadToBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *S3) Write(ctx context.Context, key string, data []byte, opts WriteOptions) error {
	return withRetry(ctx, s.retry, func() error {
		req, err := s.newRequest(ctx, http.MethodPut, key, data)
		if err != nil {
			return err
		}
		if opts.MimeType != "" {
			req.Header.Set("Content-Type", opts.MimeType)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("storage: s3 PUT %s: unexpected status %d: %s", key, resp.StatusCode, body)
		}
		return nil
	})
}

// WriteReader buffers r fully before upload. True S3 multipart upload for
// very large blobs is future work; single-part PUT covers the blob sizes
// this engine's producers emit (images, audio clips, short video segments).
func (s *S3) WriteReader(ctx context.Context, key string, r io.Reader, opts WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("storage: reading write source: %w", err)
	}
	return s.Write(ctx, key, data, opts)
}

func (s *S3) List(ctx context.Context, key string, opts ListOptions) ([]Entry, error) {
	prefix := strings.TrimPrefix(key, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	query := url.Values{}
	query.Set("list-type", "2")
	query.Set("prefix", prefix)
	if !opts.Deep {
		query.Set("delimiter", "/")
	}

	var entries []Entry
	err := withRetry(ctx, s.retry, func() error {
		entries = nil
		continuationToken := ""
		for {
			q := url.Values{}
			for k, v := range query {
				q[k] = v
			}
			if continuationToken != "" {
				q.Set("continuation-token", continuationToken)
			}

			req, reqErr := s.newRequestWithQuery(ctx, http.MethodGet, "", nil, q)
			if reqErr != nil {
				return reqErr
			}
			resp, doErr := s.client.Do(req)
			if doErr != nil {
				return doErr
			}
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("storage: s3 LIST %s: unexpected status %d: %s", prefix, resp.StatusCode, body)
			}

			result, truncated, nextToken, parseErr := parseListBucketResult(body)
			if parseErr != nil {
				return parseErr
			}
			entries = append(entries, result...)
			if !truncated {
				break
			}
			continuationToken = nextToken
		}
		return nil
	})

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, err
}

func (s *S3) Delete(ctx context.Context, key string, opts DeleteOptions) error {
	if !opts.Recursive {
		return withRetry(ctx, s.retry, func() error {
			req, err := s.newRequest(ctx, http.MethodDelete, key, nil)
			if err != nil {
				return err
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("storage: s3 DELETE %s: unexpected status %d", key, resp.StatusCode)
			}
			return nil
		})
	}

	entries, err := s.List(ctx, key, ListOptions{Deep: true})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type != EntryFile {
			continue
		}
		if err := s.Delete(ctx, e.Path, DeleteOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) newRequest(ctx context.Context, method, key string, body []byte) (*http.Request, error) {
	return s.newRequestWithQuery(ctx, method, key, body, nil)
}

func (s *S3) newRequestWithQuery(ctx context.Context, method, key string, body []byte, query url.Values) (*http.Request, error) {
	endpointURL, err := url.Parse(s.objectURL(key))
	if err != nil {
		return nil, fmt.Errorf("storage: building s3 url: %w", err)
	}
	if query != nil {
		endpointURL.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpointURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("storage: building s3 request: %w", err)
	}
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	signSigV4(req, s.cfg, body, time.Now().UTC())
	return req, nil
}

// signSigV4 signs req per AWS Signature Version 4, the scheme every
// S3-compatible provider (AWS, MinIO, Backblaze B2, R2) accepts.
func signSigV4(req *http.Request, cfg S3Config, body []byte, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	payloadHash := sha256Hex(body)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	req.Host = req.URL.Host

	signedHeaders, canonicalHeaders := canonicalHeaderSet(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, cfg.Region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(cfg.SecretAccessKey, dateStamp, cfg.Region)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		cfg.AccessKeyID, scope, signedHeaders, signature)
	req.Header.Set("Authorization", auth)
}

func canonicalURI(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func canonicalHeaderSet(req *http.Request) (signedHeaders, canonicalHeaders string) {
	headers := map[string]string{
		"host":                 req.Host,
		"x-amz-content-sha256": req.Header.Get("X-Amz-Content-Sha256"),
		"x-amz-date":           req.Header.Get("X-Amz-Date"),
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(headers[n]))
		b.WriteByte('\n')
	}
	return strings.Join(names, ";"), b.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, "s3")
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
