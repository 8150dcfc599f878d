package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	OutputDirName   = "sparksql-output"
	SuccessMarker   = "_SUCCESS"
	DateLayout      = "2006-01-02"
	outputKeyPrefix = "s3://"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// OutputLocation identifies the per-run output directory of one query.
type OutputLocation struct {
	Bucket       string
	PathPrefix   string
	Date         string
	PlaygroundID string
	QueryID      string
	UniqueID     string
}

// Prefix returns the directory key inside the bucket, always ending in "/".
func (l OutputLocation) Prefix() (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	parts := []string{OutputDirName, l.Date, l.PlaygroundID, l.QueryID, l.UniqueID}
	if prefix := cleanPathPrefix(l.PathPrefix); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return path.Join(parts...) + "/", nil
}

// URI returns the fully-qualified directory, e.g. s3://bucket/prefix/sparksql-output/....
func (l OutputLocation) URI() (string, error) {
	prefix, err := l.Prefix()
	if err != nil {
		return "", err
	}
	return outputKeyPrefix + l.Bucket + "/" + prefix, nil
}

func (l OutputLocation) Validate() error {
	if strings.TrimSpace(l.Bucket) == "" {
		return fmt.Errorf("output bucket is required")
	}
	if _, err := time.Parse(DateLayout, l.Date); err != nil {
		return fmt.Errorf("invalid output date %q: want YYYY-MM-DD", l.Date)
	}
	if err := validatePathComponent(l.PlaygroundID, "playground id"); err != nil {
		return err
	}
	if err := validatePathComponent(l.QueryID, "query id"); err != nil {
		return err
	}
	if err := validatePathComponent(l.UniqueID, "unique id"); err != nil {
		return err
	}
	for _, segment := range strings.Split(cleanPathPrefix(l.PathPrefix), "/") {
		if segment == "" {
			continue
		}
		if err := validatePathComponent(segment, "path prefix segment"); err != nil {
			return err
		}
	}
	return nil
}

// DataFileName is the single coalesced partition written for a run.
func DataFileName(uniqueID string) string {
	return fmt.Sprintf("part-00000-%s-c000.csv", uniqueID)
}

// FirstDataFile picks the first object in a listing that is not a marker file.
func FirstDataFile(objects []ObjectInfo) (ObjectInfo, bool) {
	var first ObjectInfo
	found := false
	for _, object := range objects {
		base := path.Base(object.Key)
		if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
			continue
		}
		if !found || object.Key < first.Key {
			first = object
			found = true
		}
	}
	return first, found
}

func cleanPathPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return path.Clean(prefix)
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
