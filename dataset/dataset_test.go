package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBIDSPathListRawdata(t *testing.T) {
	s := NewBIDSSchema("/data")
	s.ImportDict(map[string]interface{}{
		"folder": "rawdata", "sub": "01", "ses": "1", "data_type": "anat", "suffix": "T1w", "extension": "nii.gz",
	})
	list, err := s.PathList(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rawdata", "sub-01", "ses-1", "anat", "sub-01_ses-1_T1w.nii.gz"}, list)
}

func TestBIDSPathListDerivativeRequiresFolder(t *testing.T) {
	s := NewBIDSSchema("/data")
	s.ImportDict(map[string]interface{}{
		"folder": "rawdata", "process": "denoiser", "sub": "01", "ses": "1", "extension": "nii",
	})
	_, err := s.PathList(nil)
	assert.Error(t, err)
}

func TestBIDSPathListWithProcessDefaultsFolderToDerivative(t *testing.T) {
	s := NewBIDSSchema("/data")
	s.ImportDict(map[string]interface{}{
		"process": "denoiser", "sub": "01", "ses": "1", "suffix": "T1w", "extension": "nii",
	})
	list, err := s.PathList(nil)
	require.NoError(t, err)
	assert.Equal(t, "derivative", list[0])
	assert.Equal(t, "denoiser", list[1])
}

func TestBIDSMetadataParsesPathIntoAttributes(t *testing.T) {
	dir := t.TempDir()
	relDir := filepath.Join(dir, "rawdata", "sub-01", "ses-1", "anat")
	require.NoError(t, os.MkdirAll(relDir, 0o755))
	file := filepath.Join(relDir, "sub-01_ses-1_task-rest_T1w.nii")
	require.NoError(t, os.WriteFile(file, []byte{}, 0o644))

	s := NewBIDSSchema(dir)
	meta, err := s.Metadata(file)
	require.NoError(t, err)
	assert.Equal(t, "01", meta["sub"])
	assert.Equal(t, "1", meta["ses"])
	assert.Equal(t, "anat", meta["data_type"])
	assert.Equal(t, "rest", meta["task"])
	assert.Equal(t, "T1w", meta["suffix"])
	assert.Equal(t, "nii", meta["extension"])
}

func TestBIDSFindGlobsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	relDir := filepath.Join(dir, "rawdata", "sub-01", "ses-1", "anat")
	require.NoError(t, os.MkdirAll(relDir, 0o755))
	file := filepath.Join(relDir, "sub-01_ses-1_T1w.nii")
	require.NoError(t, os.WriteFile(file, []byte{}, 0o644))

	s := NewBIDSSchema(dir)
	matches, err := s.Find(map[string]interface{}{"folder": "rawdata", "sub": "01", "ses": "1", "suffix": "T1w", "extension": "nii"})
	require.NoError(t, err)
	assert.Contains(t, matches, file)
}

func TestBrainVISAPathListDefaults(t *testing.T) {
	s := NewBrainVISASchema("/data")
	s.ImportDict(map[string]interface{}{"center": "subjects", "subject": "fred"})
	list, err := s.PathList(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"subjects", "fred", "default_acquisition", "default_analysis", "3.1", "default_session_auto", "fred"}, list)
}

func TestMorphologistBIDSSubjectOnly(t *testing.T) {
	s := NewMorphologistBIDSSchema("/data")
	s.Set("subject", "fred")
	s.Set("subject_only", true)
	list, err := s.PathList(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fred"}, list)
}

func TestBidsToBrainVISAMapping(t *testing.T) {
	mapping := FindSchemaMapping("bids", "brainvisa")
	require.NotNil(t, mapping)
	source := NewBIDSSchema("/data")
	source.ImportDict(map[string]interface{}{"sub": "01", "ses": "1", "extension": "nii"})
	dest := NewBrainVISASchema("/data")
	require.NoError(t, mapping(source, dest))
	assert.Equal(t, "01", dest.AsDict()["subject"])
	assert.Equal(t, "1", dest.AsDict()["acquisition"])
	assert.Equal(t, "subjects", dest.AsDict()["center"])
}

func TestDatasetReadsSchemaFromCapsulJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capsul.json"), []byte(`{"metadata_schema":"bids"}`), 0o644))
	d, err := New(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "bids", d.MetadataSchemaName)
	assert.NotNil(t, d.Schema())
}

func TestDatasetUnknownSchemaErrors(t *testing.T) {
	_, err := New("/data", "no-such-schema")
	require.Error(t, err)
	var unk *ErrUnknownSchema
	require.ErrorAs(t, err, &unk)
}
