package proxy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// Pool hands proxies to workers one at a time, round-robin, skipping blocked
// and in-use addresses. Block events are appended to the block log file,
// which is also the source of the blocked set on reload.
type Pool struct {
	proxiesFile string
	blockedFile string
	logger      *zap.Logger
	clock       crawler.Clock

	mu          sync.Mutex
	endpoints   []*Endpoint
	byAddress   map[string]*Endpoint
	blocked     map[string]struct{}
	inUse       map[string]struct{}
	cursor      int
	lastAddress string
	// avail is closed while at least one endpoint is neither blocked nor in
	// use, and replaced with an open channel otherwise.
	avail chan struct{}

	appendMu sync.Mutex
}

// NewPool constructs a Pool and performs the initial load from both files.
func NewPool(proxiesFile, blockedFile string, logger *zap.Logger, clock crawler.Clock) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	p := &Pool{
		proxiesFile: proxiesFile,
		blockedFile: blockedFile,
		logger:      logger,
		clock:       clock,
		byAddress:   make(map[string]*Endpoint),
		blocked:     make(map[string]struct{}),
		inUse:       make(map[string]struct{}),
		avail:       make(chan struct{}),
	}
	if _, err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the proxy and block lists. The round-robin cursor resumes
// immediately after the previously used address when it survives the reload,
// otherwise it resets to 0. Returns the number of loaded endpoints.
func (p *Pool) Reload() (int, error) {
	endpoints, err := p.readProxies()
	if err != nil {
		return 0, err
	}
	blocked, err := p.readBlocked()
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	previousLast := p.lastAddress
	p.endpoints = endpoints
	p.byAddress = make(map[string]*Endpoint, len(endpoints))
	for _, ep := range endpoints {
		p.byAddress[ep.Address] = ep
	}
	p.blocked = blocked
	for _, ep := range endpoints {
		_, ep.IsBlocked = blocked[ep.Address]
	}
	for addr := range p.inUse {
		if _, ok := p.byAddress[addr]; !ok {
			delete(p.inUse, addr)
		}
	}
	p.cursor = 0
	if previousLast != "" {
		for i, ep := range endpoints {
			if ep.Address == previousLast {
				p.cursor = (i + 1) % len(endpoints)
				break
			}
		}
	}
	p.recomputeAvailabilityLocked()
	total := len(endpoints)
	p.mu.Unlock()

	if total == 0 {
		p.logger.Warn("proxy pool is empty", zap.String("proxies_file", p.proxiesFile))
	}
	return total, nil
}

// RefreshBlocked re-reads only the block list and applies it to the loaded
// endpoints. Addresses that became blocked are evicted from the in-use set.
func (p *Pool) RefreshBlocked() error {
	blocked, err := p.readBlocked()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked = blocked
	for _, ep := range p.endpoints {
		_, ep.IsBlocked = blocked[ep.Address]
	}
	for addr := range blocked {
		delete(p.inUse, addr)
	}
	p.recomputeAvailabilityLocked()
	return nil
}

// Acquire returns the next free, unblocked endpoint, or nil when a full
// sweep finds none. The returned endpoint is exclusively owned by the caller
// until Release.
func (p *Pool) Acquire() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.endpoints)
	if total == 0 {
		p.recomputeAvailabilityLocked()
		return nil
	}

	for range total {
		ep := p.endpoints[p.cursor]
		p.cursor = (p.cursor + 1) % total

		if _, bad := p.blocked[ep.Address]; bad {
			continue
		}
		if _, busy := p.inUse[ep.Address]; busy {
			continue
		}

		p.inUse[ep.Address] = struct{}{}
		ep.LastUsedAt = p.clock.Now()
		p.lastAddress = ep.Address
		p.recomputeAvailabilityLocked()
		snapshot := *ep
		return &snapshot
	}

	p.recomputeAvailabilityLocked()
	return nil
}

// Release returns an address to the pool.
func (p *Pool) Release(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, address)
	p.recomputeAvailabilityLocked()
}

// MarkBlocked flags the address as blocked pool-wide and appends one audit
// line to the block log. Repeated block signals for an already blocked
// address never produce duplicate log lines.
func (p *Pool) MarkBlocked(address, reason string) error {
	timestamp := p.clock.Now().Format(time.RFC3339)

	p.mu.Lock()
	if ep, ok := p.byAddress[address]; ok {
		ep.IsBlocked = true
		ep.Failures++
	}
	_, alreadyBlocked := p.blocked[address]
	if !alreadyBlocked {
		p.blocked[address] = struct{}{}
	}
	delete(p.inUse, address)
	p.recomputeAvailabilityLocked()
	p.mu.Unlock()

	if alreadyBlocked {
		return nil
	}
	record := fmt.Sprintf("%s\t%s\t%s\n", timestamp, address, reason)
	if err := p.appendBlockedRecord(record); err != nil {
		return fmt.Errorf("append block record: %w", err)
	}
	p.logger.Warn("proxy blocked",
		zap.String("proxy", address),
		zap.String("reason", reason),
	)
	return nil
}

// MarkAvailable clears the blocked flag for manually recovered proxies.
func (p *Pool) MarkAvailable(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blocked, address)
	if ep, ok := p.byAddress[address]; ok {
		ep.IsBlocked = false
	}
	p.recomputeAvailabilityLocked()
}

// AllBlocked reports whether no endpoint is present, unblocked, and free.
func (p *Pool) AllBlocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.hasFreeLocked()
}

// Size returns the number of loaded endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Stats returns counts for the ops surface: total, blocked, in-use.
func (p *Pool) Stats() (total, blocked, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints), len(p.blocked), len(p.inUse)
}

// WaitForUnblocked blocks until at least one endpoint becomes acquirable.
func (p *Pool) WaitForUnblocked(ctx context.Context) error {
	p.mu.Lock()
	avail := p.avail
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-avail:
		return nil
	}
}

func (p *Pool) hasFreeLocked() bool {
	for _, ep := range p.endpoints {
		if _, bad := p.blocked[ep.Address]; bad {
			continue
		}
		if _, busy := p.inUse[ep.Address]; busy {
			continue
		}
		return true
	}
	return false
}

func (p *Pool) recomputeAvailabilityLocked() {
	free := p.hasFreeLocked()
	closed := isClosed(p.avail)
	switch {
	case free && !closed:
		close(p.avail)
	case !free && closed:
		p.avail = make(chan struct{})
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// readProxies loads the proxy list, dropping blanks, comments, and duplicate
// addresses. First-seen auth wins for duplicates.
func (p *Pool) readProxies() ([]*Endpoint, error) {
	lines, err := readLines(p.proxiesFile)
	if err != nil {
		return nil, fmt.Errorf("read proxies file: %w", err)
	}
	seen := make(map[string]struct{})
	var endpoints []*Endpoint
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep := parseEndpoint(line)
		if _, dup := seen[ep.Address]; dup {
			continue
		}
		seen[ep.Address] = struct{}{}
		endpoints = append(endpoints, &ep)
	}
	return endpoints, nil
}

// readBlocked extracts blocked addresses from the tab-separated block log.
func (p *Pool) readBlocked() (map[string]struct{}, error) {
	lines, err := readLines(p.blockedFile)
	if err != nil {
		return nil, fmt.Errorf("read blocked file: %w", err)
	}
	blocked := make(map[string]struct{})
	for _, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parts := strings.Split(raw, "\t")
		if len(parts) >= 2 {
			blocked[strings.TrimSpace(parts[1])] = struct{}{}
		}
	}
	return blocked, nil
}

// readLines returns the file's lines, or nil when the file does not exist.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// appendBlockedRecord writes one whole line under its own mutex so that
// concurrent block events never interleave partial lines.
func (p *Pool) appendBlockedRecord(record string) error {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	if dir := filepath.Dir(p.blockedFile); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(p.blockedFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(record); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
