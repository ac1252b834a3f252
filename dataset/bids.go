package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

func init() {
	RegisterSchema("bids", func(basePath string) Schema { return NewBIDSSchema(basePath) })
	RegisterSchemaMapping("bids", "brainvisa", mapBidsToBrainVISA)
	RegisterSchemaMapping("bids", "morphologist_bids", mapBidsToMorphoBIDS)
}

// bidsOrderedKeys is the declaration order of BIDSSchema's attributes,
// mirroring the class body of dataset.BIDSSchema; find() uses it to
// discover which attributes should be wildcarded when absent.
var bidsOrderedKeys = []string{
	"folder", "process", "sub", "ses", "data_type",
	"task", "acq", "ce", "rec", "run", "echo", "part", "suffix", "extension",
}

var bidsOptionalKeys = map[string]bool{
	"process": true, "data_type": true, "task": true, "acq": true, "ce": true,
	"rec": true, "run": true, "echo": true, "part": true, "suffix": true,
}

// bidsPathPattern recognizes a BIDS-organized relative path. Go's RE2
// engine has no backreferences, so unlike the original
// "(?P=sub)"/"(?P=ses)" assertions, sub/ses are captured twice (in the
// directory and in the filename) and checked for equality in Metadata.
var bidsPathPattern = regexp.MustCompile(
	`^(?P<folder>[^-_/]*)/` +
		`sub-(?P<sub>[^-_/]*)/` +
		`ses-(?P<ses>[^-_/]*)/` +
		`(?P<data_type>[^/]*)/` +
		`sub-(?P<sub2>[^-_/]*)_ses-(?P<ses2>[^-_/]*)` +
		`(?:_task-(?P<task>[^-_/]*))?` +
		`(?:_acq-(?P<acq>[^-_/]*))?` +
		`(?:_ce-(?P<ce>[^-_/]*))?` +
		`(?:_rec-(?P<rec>[^-_/]*))?` +
		`(?:_run-(?P<run>[^-_/]*))?` +
		`(?:_echo-(?P<echo>[^-_/]*))?` +
		`(?:_part-(?P<part>[^-_/]*))?` +
		`(?:_(?P<suffix>[^-_/]*))?\.(?P<extension>.*)$`,
)

// BIDSSchema is the metadata schema for BIDS-organized datasets (grounded
// on dataset.BIDSSchema).
type BIDSSchema struct {
	baseSchema
	tsvCache map[string]map[string]map[string]string
}

// NewBIDSSchema constructs a BIDS schema rooted at basePath.
func NewBIDSSchema(basePath string) *BIDSSchema {
	return &BIDSSchema{baseSchema: newBaseSchema("bids", basePath), tsvCache: make(map[string]map[string]map[string]string)}
}

// PathList builds the BIDS path: {folder}/sub-{sub}/ses-{ses}/{data_type}/
// sub-{sub}_ses-{ses}[_task-...]..._{suffix}.{extension}, or, when a
// process is set, the derivative/{process}/... variant (grounded on
// BIDSSchema._path_list).
func (s *BIDSSchema) PathList(unused map[string]bool) ([]string, error) {
	folder := s.getString("folder")
	process := s.getString("process")
	sub := s.getString("sub")
	ses := s.getString("ses")
	dataType := s.getString("data_type")

	pathList := []string{folder}
	if process != "" {
		if folder == "" {
			folder = "derivative"
			pathList[0] = folder
		} else if folder != "derivative" {
			return nil, fmt.Errorf(`BIDS schema with a process requires folder=="derivative"`)
		}
		pathList = append(pathList, process)
	}
	pathList = append(pathList, "sub-"+sub, "ses-"+ses)
	if dataType != "" {
		pathList = append(pathList, dataType)
	} else if process == "" {
		return nil, fmt.Errorf("BIDS schema requires a value for either data_type or process")
	}

	filename := []string{"sub-" + sub, "ses-" + ses}
	for _, key := range []string{"task", "acq", "ce", "rec", "run", "echo", "part"} {
		if v := s.getString(key); v != "" {
			filename = append(filename, key+"-"+v)
		}
	}
	if suffix := s.getString("suffix"); suffix != "" {
		filename = append(filename, suffix+"."+s.getString("extension"))
	} else {
		filename[len(filename)-1] = filename[len(filename)-1] + "." + s.getString("extension")
	}
	pathList = append(pathList, strings.Join(filename, "_"))
	return pathList, nil
}

// tsvToDict reads a TSV file once and caches it, keyed by its first column.
func (s *BIDSSchema) tsvToDict(path string) (map[string]map[string]string, error) {
	if cached, ok := s.tsvCache[path]; ok {
		return cached, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	result := make(map[string]map[string]string)
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) == 0 {
			continue
		}
		entry := make(map[string]string)
		for i, col := range header[1:] {
			if i+1 < len(row) {
				entry[col] = row[i+1]
			}
		}
		result[row[0]] = entry
	}
	s.tsvCache[path] = result
	return result, nil
}

// Metadata parses path, relative to the schema's base path, into an
// attribute map using bidsPathPattern, then enriches it with any matching
// _sessions.tsv/_scans.tsv/sidecar .json entries (grounded on
// BIDSSchema.metadata).
func (s *BIDSSchema) Metadata(path string) (map[string]interface{}, error) {
	relative := path
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(s.BasePath(), path)
		if err != nil {
			return nil, err
		}
		relative = rel
	} else {
		path = filepath.Join(s.BasePath(), path)
	}

	result := make(map[string]interface{})
	m := bidsPathPattern.FindStringSubmatch(filepath.ToSlash(relative))
	extSuffix := ""
	if m != nil {
		names := bidsPathPattern.SubexpNames()
		groups := make(map[string]string)
		for i, name := range names {
			if name != "" && i < len(m) && m[i] != "" {
				groups[name] = m[i]
			}
		}
		if groups["sub"] != groups["sub2"] || groups["ses"] != groups["ses2"] {
			return result, nil
		}
		if groups["extension"] == "gz" {
			if m2 := bidsPathPattern.FindStringSubmatch(filepath.ToSlash(relative)[:len(relative)-3]); m2 != nil {
				groups = make(map[string]string)
				for i, name := range names {
					if name != "" && i < len(m2) && m2[i] != "" {
						groups[name] = m2[i]
					}
				}
				extSuffix = ".gz"
			}
		}
		for k, v := range groups {
			if k == "sub2" || k == "ses2" {
				continue
			}
			result[k] = v
		}
	}

	folder, _ := result["folder"].(string)
	sub, _ := result["sub"].(string)
	extension, _ := result["extension"].(string)
	if extSuffix != "" {
		if extension != "" {
			extension += extSuffix
		} else {
			extension = "gz"
		}
		result["extension"] = extension
	}
	if folder != "" && sub != "" {
		ses, _ := result["ses"].(string)
		var scansFile string
		if ses != "" {
			sessionsFile := filepath.Join(s.BasePath(), folder, "sub-"+sub, "sub-"+sub+"_sessions.tsv")
			if data, err := s.tsvToDict(sessionsFile); err == nil {
				if meta, ok := data["ses-"+ses]; ok {
					for k, v := range meta {
						result[k] = v
					}
				}
			}
			scansFile = filepath.Join(s.BasePath(), folder, "sub-"+sub, "ses-"+ses, "sub-"+sub+"_ses-"+ses+"_scans.tsv")
		} else {
			scansFile = filepath.Join(s.BasePath(), folder, "sub-"+sub, "sub-"+sub+"_scans.tsv")
		}
		if data, err := s.tsvToDict(scansFile); err == nil {
			rel, err := filepath.Rel(filepath.Dir(scansFile), path)
			if err == nil {
				if meta, ok := data[filepath.ToSlash(rel)]; ok {
					for k, v := range meta {
						result[k] = v
					}
				}
			}
		}
		var jsonPath string
		if extension != "" {
			jsonPath = path[:len(path)-len(extension)-1] + ".json"
		} else {
			jsonPath = path + ".json"
		}
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sidecar map[string]interface{}
			if json.Unmarshal(b, &sidecar) == nil {
				for k, v := range sidecar {
					result[k] = v
				}
			}
		}
	}
	return result, nil
}

// Find globs the dataset for files matching the given attribute filters,
// wildcarding every unset non-optional attribute (grounded on
// BIDSSchema.find).
func (s *BIDSSchema) Find(filters map[string]interface{}) ([]string, error) {
	layout := NewBIDSSchema(s.BasePath())
	layout.ImportDict(filters)
	if _, hasDataType := filters["data_type"]; !hasDataType {
		if _, hasProcess := filters["process"]; !hasProcess {
			layout.Set("data_type", "*")
		}
	}
	for _, key := range bidsOrderedKeys {
		if _, ok := layout.Get(key); !ok && !bidsOptionalKeys[key] {
			layout.Set(key, "*")
		}
	}
	globs, err := layout.PathList(nil)
	if err != nil {
		return nil, err
	}

	directories := []string{s.BasePath()}
	for len(globs) > 1 {
		var next []string
		for _, d := range directories {
			matches, _ := filepath.Glob(filepath.Join(d, globs[0]))
			for _, m := range matches {
				if info, err := os.Stat(m); err == nil && info.IsDir() {
					next = append(next, m)
				}
			}
		}
		globs = globs[1:]
		directories = next
	}

	var results []string
	for _, d := range directories {
		matches, _ := filepath.Glob(filepath.Join(d, globs[0]))
		results = append(results, matches...)
	}
	return results, nil
}

func mapBidsToBrainVISA(source, dest Schema) error {
	if _, ok := dest.Get("center"); !ok {
		dest.Set("center", "subjects")
	}
	if sub, ok := source.Get("sub"); ok {
		dest.Set("subject", sub)
	}
	if ses, ok := source.Get("ses"); ok {
		dest.Set("acquisition", ses)
	}
	if ext, ok := source.Get("extension"); ok {
		dest.Set("extension", ext)
	}
	if process, ok := source.Get("process"); ok {
		if str, _ := process.(string); str != "" {
			dest.Set("process", process)
		}
	}
	return nil
}

func mapBidsToMorphoBIDS(source, dest Schema) error {
	return mapBidsToBrainVISA(source, dest)
}
