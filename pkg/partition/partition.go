// Package partition maps a key, or the logical URI built for it, to the
// partition that owns it. Every provider is a pure function of its input and
// its construction-time configuration.
package partition

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrNoPartitionFound = errors.New("sgrouter: no partition found")

// Provider resolves the partition of a key-shaped input.
type Provider interface {
	PartitionID(keyURI string) (int, error)
	// Count is the number of partitions the provider can return.
	Count() int
}

// HashMethod turns an extracted token into a partition number.
type HashMethod int

const (
	// Modulo parses the token as an integer and takes it modulo the partition count.
	Modulo HashMethod = iota
	// MD5 hashes the token with md5 and takes the first 8 bytes modulo the partition count.
	MD5
)

// ParseHashMethod accepts "modulo" or "md5".
func ParseHashMethod(s string) (HashMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "modulo", "":
		return Modulo, nil
	case "md5":
		return MD5, nil
	}
	return 0, fmt.Errorf("partition: unknown hash method %q", s)
}

// HashBased extracts a token with Pattern and hashes it into one of Partitions buckets.
type HashBased struct {
	Partitions int
	// Pattern's first capture group is the token. A nil Pattern uses the whole input.
	Pattern *regexp.Regexp
	Method  HashMethod
}

// NewHashBased compiles pattern (which may be empty) into a HashBased provider.
func NewHashBased(partitions int, pattern string, method HashMethod) (*HashBased, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition: count must be positive, got %d", partitions)
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return &HashBased{Partitions: partitions, Pattern: re, Method: method}, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("partition: compile pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("partition: pattern %q has no capture group", pattern)
	}
	return re, nil
}

func (p *HashBased) Count() int { return p.Partitions }

func (p *HashBased) PartitionID(keyURI string) (int, error) {
	token, err := extract(p.Pattern, keyURI)
	if err != nil {
		return 0, err
	}

	switch p.Method {
	case Modulo:
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: token %q is not an integer", ErrNoPartitionFound, token)
		}
		r := n % int64(p.Partitions)
		if r < 0 {
			r = -r
		}
		return int(r), nil
	case MD5:
		sum := md5.Sum([]byte(token))
		return int(binary.BigEndian.Uint64(sum[:8]) % uint64(p.Partitions)), nil
	}
	return 0, fmt.Errorf("partition: unknown hash method %d", int(p.Method))
}

// RangeBased assigns consecutive integer ranges of Size keys starting at Start to partitions.
type RangeBased struct {
	Start      int64
	Size       int64
	Partitions int
	Pattern    *regexp.Regexp
}

// NewRangeBased compiles pattern (which may be empty) into a RangeBased provider.
func NewRangeBased(partitions int, pattern string, start, size int64) (*RangeBased, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition: count must be positive, got %d", partitions)
	}
	if size <= 0 {
		return nil, fmt.Errorf("partition: range size must be positive, got %d", size)
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RangeBased{Start: start, Size: size, Partitions: partitions, Pattern: re}, nil
}

func (p *RangeBased) Count() int { return p.Partitions }

func (p *RangeBased) PartitionID(keyURI string) (int, error) {
	token, err := extract(p.Pattern, keyURI)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token %q is not an integer", ErrNoPartitionFound, token)
	}
	if p.Size <= 0 || n < p.Start {
		return 0, fmt.Errorf("%w: %d below range start %d", ErrNoPartitionFound, n, p.Start)
	}
	id := (uint64(n) - uint64(p.Start)) / uint64(p.Size)
	if id >= uint64(p.Partitions) {
		return 0, fmt.Errorf("%w: %d beyond last partition", ErrNoPartitionFound, n)
	}
	return int(id), nil
}

// Single is the provider of an unpartitioned service.
type Single struct{}

func (Single) Count() int { return 1 }

func (Single) PartitionID(string) (int, error) { return 0, nil }

func extract(re *regexp.Regexp, input string) (string, error) {
	if re == nil {
		if input == "" {
			return "", fmt.Errorf("%w: empty key", ErrNoPartitionFound)
		}
		return input, nil
	}
	m := re.FindStringSubmatch(input)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("%w: %q does not match %s", ErrNoPartitionFound, input, re)
	}
	return m[1], nil
}
