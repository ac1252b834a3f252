package dataset

import "strings"

func init() {
	RegisterSchema("brainvisa", func(basePath string) Schema { return NewBrainVISASchema(basePath) })
	RegisterSchema("morphologist_bids", func(basePath string) Schema { return NewMorphologistBIDSSchema(basePath) })
}

// brainVISADefaults mirrors the non-empty class-level defaults of
// dataset.BrainVISASchema.
var brainVISADefaults = map[string]interface{}{
	"analysis":                  "default_analysis",
	"acquisition":               "default_acquisition",
	"sulci_graph_version":       "3.1",
	"sulci_recognition_session": "default_session",
	"sulci_recognition_type":    "auto",
	"subject_in_filename":       true,
}

// BrainVISASchema is the metadata schema for BrainVISA datasets (grounded
// on dataset.BrainVISASchema).
type BrainVISASchema struct {
	baseSchema
}

// NewBrainVISASchema constructs a BrainVISA schema rooted at basePath with
// its class-level defaults preset.
func NewBrainVISASchema(basePath string) *BrainVISASchema {
	s := &BrainVISASchema{baseSchema: newBaseSchema("brainvisa", basePath)}
	s.ImportDict(brainVISADefaults)
	return s
}

// PathList builds the BrainVISA directory/filename layout (grounded on
// BrainVISASchema._path_list).
func (s *BrainVISASchema) PathList(unused map[string]bool) ([]string, error) {
	return brainVISAPathList(&s.baseSchema, unused)
}

func brainVISAPathList(b *baseSchema, unused map[string]bool) ([]string, error) {
	if unused == nil {
		unused = map[string]bool{}
	}
	var pathList []string
	for _, key := range []string{"center", "subject", "modality", "process", "acquisition", "preprocessings", "longitudinal", "analysis"} {
		if unused[key] {
			continue
		}
		if v := b.getString(key); v != "" {
			pathList = append(pathList, v)
		}
	}
	if !unused["seg_directory"] {
		if v := b.getString("seg_directory"); v != "" {
			pathList = append(pathList, strings.Split(v, "/")...)
		}
	}
	if !unused["sulci_graph_version"] {
		if v := b.getString("sulci_graph_version"); v != "" {
			pathList = append(pathList, v)
			if !unused["sulci_recognition_session"] {
				if sess := b.getString("sulci_recognition_session"); sess != "" {
					pathList = append(pathList, sess)
					if !unused["sulci_recognition_type"] {
						if typ := b.getString("sulci_recognition_type"); typ != "" {
							pathList[len(pathList)-1] = pathList[len(pathList)-1] + "_" + typ
						}
					}
				}
			}
		}
	}

	var filename []string
	if !unused["side"] {
		if v := b.getString("side"); v != "" {
			filename = append(filename, v)
		}
	}
	if !unused["prefix"] {
		if v := b.getString("prefix"); v != "" {
			filename = append(filename, v+"_")
		}
	}
	if !unused["short_prefix"] {
		if v := b.getString("short_prefix"); v != "" {
			filename = append(filename, v)
		}
	}
	subjectInFilename, _ := b.Get("subject_in_filename")
	if sv, ok := subjectInFilename.(bool); (!ok || sv) && !unused["subject_in_filename"] {
		filename = append(filename, b.getString("subject"))
	}
	if !unused["longitudinal"] {
		if v := b.getString("longitudinal"); v != "" {
			filename = append(filename, "_to_avg_"+v)
		}
	}
	suffix := ""
	if !unused["suffix"] {
		suffix = b.getString("suffix")
	}
	sidebis := ""
	if !unused["sidebis"] {
		sidebis = b.getString("sidebis")
	}
	if suffix != "" || sidebis != "" {
		if len(filename) > 0 {
			filename = append(filename, "_")
		}
		if sidebis != "" {
			filename = append(filename, sidebis)
		}
		if suffix != "" {
			filename = append(filename, suffix)
		}
	}
	if !unused["extension"] {
		if v := b.getString("extension"); v != "" {
			filename = append(filename, "."+v)
		}
	}
	pathList = append(pathList, strings.Join(filename, ""))
	return pathList, nil
}

// MorphologistBIDSSchema overlays a BIDS-like folder/sub/ses/anat prefix on
// top of the BrainVISA layout (grounded on dataset.MorphologistBIDSSchema).
type MorphologistBIDSSchema struct {
	baseSchema
}

// NewMorphologistBIDSSchema constructs the hybrid schema.
func NewMorphologistBIDSSchema(basePath string) *MorphologistBIDSSchema {
	s := &MorphologistBIDSSchema{baseSchema: newBaseSchema("morphologist_bids", basePath)}
	s.ImportDict(brainVISADefaults)
	s.Set("subject_only", false)
	return s
}

// PathList implements dataset.MorphologistBIDSSchema._path_list: when
// subject_only is set it returns just the subject id, otherwise it prefixes
// the BrainVISA layout (minus its first two elements) with the BIDS
// folder/sub/ses/anat segments.
func (s *MorphologistBIDSSchema) PathList(unused map[string]bool) ([]string, error) {
	if unused == nil {
		unused = map[string]bool{}
	}
	if !unused["subject_only"] {
		if v, ok := s.Get("subject_only"); ok {
			if b, _ := v.(bool); b {
				return []string{s.getString("subject")}, nil
			}
		}
	}
	base, err := brainVISAPathList(&s.baseSchema, unused)
	if err != nil {
		return nil, err
	}
	prePath := []string{"sub-" + s.getString("subject"), "ses-" + s.getString("acquisition"), "anat"}
	if !unused["folder"] {
		if folder := s.getString("folder"); folder != "" {
			prePath = append([]string{folder}, prePath...)
		}
	}
	if len(base) < 2 {
		return prePath, nil
	}
	return append(prePath, base[2:]...), nil
}
