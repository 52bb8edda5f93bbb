package infra

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go4.org/netipx"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

const (
	// DefaultRegistryURL is the APNIC delegated statistics file.
	DefaultRegistryURL = "http://ftp.apnic.net/stats/apnic/delegated-apnic-latest"

	registryTimeout = 5 * time.Minute
	maxRecordLength = 1024 * 1024
)

// AllowListBuilderImpl implements domain.AllowListBuilder.
// It downloads a regional registry delegation file, keeps the IPv4/IPv6
// records assigned to allowed countries and writes them as an nginx geo map
// ("<cidr> 0;" per line).
type AllowListBuilderImpl struct {
	client    *http.Client
	url       string
	path      string
	countries map[string]struct{}
	fsManager domain.FileSystemManager
	logger    *zap.Logger
}

// NewAllowListBuilder creates a builder writing to path.
func NewAllowListBuilder(url, path string, countries []string, fs domain.FileSystemManager, logger *zap.Logger) *AllowListBuilderImpl {
	allowed := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			allowed[c] = struct{}{}
		}
	}

	return &AllowListBuilderImpl{
		client:    &http.Client{Timeout: registryTimeout},
		url:       url,
		path:      path,
		countries: allowed,
		fsManager: fs,
		logger:    logger,
	}
}

// Path returns the allow-list file path.
func (b *AllowListBuilderImpl) Path() string {
	return b.path
}

// Rebuild downloads the registry file and replaces the allow-list.
// The previous file is only replaced after the whole download succeeded.
func (b *AllowListBuilderImpl) Rebuild(ctx context.Context) (*domain.AllowListResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "proxymon")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	if err := b.fsManager.EnsureParent(b.path); err != nil {
		return nil, fmt.Errorf("failed to create allow-list directory: %w", err)
	}

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(filepath.Dir(b.path), ".iplist-tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	result := &domain.AllowListResult{Path: b.path, Countries: b.countryList()}
	w := bufio.NewWriter(tmpFile)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLength)
	for scanner.Scan() {
		prefixes, ok := b.allowedPrefixes(scanner.Text())
		if !ok {
			continue
		}
		result.Records++
		for _, p := range prefixes {
			if _, err := fmt.Fprintf(w, "%s 0;\n", p); err != nil {
				tmpFile.Close()
				return nil, err
			}
			result.Prefixes++
		}
	}
	if err := scanner.Err(); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	if err := w.Flush(); err != nil {
		tmpFile.Close()
		return nil, err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return nil, err
	}
	tmpFile.Close()

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return nil, err
	}
	success = true

	result.CompletedAt = time.Now()
	b.logger.Info("allow-list rebuilt",
		zap.String("path", b.path),
		zap.Int("records", result.Records),
		zap.Int("prefixes", result.Prefixes))
	return result, nil
}

func (b *AllowListBuilderImpl) countryList() []string {
	list := make([]string, 0, len(b.countries))
	for c := range b.countries {
		list = append(list, c)
	}
	return list
}

// allowedPrefixes parses one delegation record:
//
//	registry|cc|type|start|value|date|status
//
// For ipv4 the value is an address count, for ipv6 it is a prefix length.
func (b *AllowListBuilderImpl) allowedPrefixes(record string) ([]netip.Prefix, bool) {
	fields := strings.Split(strings.TrimSpace(record), "|")
	if len(fields) != 7 {
		return nil, false
	}
	if _, ok := b.countries[fields[1]]; !ok {
		return nil, false
	}

	start, err := netip.ParseAddr(fields[3])
	if err != nil {
		return nil, false
	}
	value, err := strconv.Atoi(fields[4])
	if err != nil || value <= 0 {
		return nil, false
	}

	switch fields[2] {
	case "ipv4":
		if !start.Is4() {
			return nil, false
		}
		a := start.As4()
		last := uint64(binary.BigEndian.Uint32(a[:])) + uint64(value) - 1
		if last > math.MaxUint32 {
			return nil, false
		}
		var end [4]byte
		binary.BigEndian.PutUint32(end[:], uint32(last))
		r := netipx.IPRangeFrom(start, netip.AddrFrom4(end))
		if !r.IsValid() {
			return nil, false
		}
		return r.Prefixes(), true

	case "ipv6":
		if !start.Is6() || value > 128 {
			return nil, false
		}
		p := netip.PrefixFrom(start, value)
		if !p.IsValid() {
			return nil, false
		}
		return []netip.Prefix{p.Masked()}, true
	}
	return nil, false
}

// Ensure AllowListBuilderImpl implements domain.AllowListBuilder.
var _ domain.AllowListBuilder = (*AllowListBuilderImpl)(nil)
