package provenance

import (
	"encoding/json"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/models"
)

type NodeType string

const (
	TypeFileUpload     NodeType = "file-upload"
	TypeAnalysis       NodeType = "analysis"
	TypeTransformation NodeType = "transformation"
	TypeApproval       NodeType = "approval"
	TypeTransmission   NodeType = "transmission"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusWarning  Status = "warning"
	StatusFailed   Status = "failed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Stage is a processing step. Stages must be recorded in declaration order;
// the stage name doubles as the id of its first node.
type Stage string

const (
	StageSource       Stage = "source"
	StageDetection    Stage = "system-detection"
	StageMapping      Stage = "column-mapping"
	StageExtraction   Stage = "data-extraction"
	StageApproval     Stage = "user-approval"
	StageTransmission Stage = "server-transmission"
)

var stageOrder = []Stage{StageSource, StageDetection, StageMapping, StageExtraction, StageApproval, StageTransmission}

// mandatoryStages feed the consistency dimension of the quality score.
var mandatoryStages = []Stage{StageSource, StageDetection, StageMapping, StageExtraction}

var stageTypes = map[Stage]NodeType{
	StageSource:       TypeFileUpload,
	StageDetection:    TypeAnalysis,
	StageMapping:      TypeTransformation,
	StageExtraction:   TypeTransformation,
	StageApproval:     TypeApproval,
	StageTransmission: TypeTransmission,
}

var stageRelationships = map[Stage]string{
	StageDetection:    "analyzed",
	StageMapping:      "mapped",
	StageExtraction:   "extracted",
	StageApproval:     "reviewed",
	StageTransmission: "transmitted",
}

func (s Stage) position() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

type Node struct {
	ID        string    `json:"id"`
	Type      NodeType  `json:"type"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Data      NodeData  `json:"data"`
}

// NodeData carries the payload of exactly one stage.
type NodeData struct {
	Upload       *UploadData       `json:"upload,omitempty"`
	Detection    *DetectionData    `json:"detection,omitempty"`
	Mapping      *MappingData      `json:"mapping,omitempty"`
	Extraction   *ExtractionData   `json:"extraction,omitempty"`
	Approval     *ApprovalData     `json:"approval,omitempty"`
	Transmission *TransmissionData `json:"transmission,omitempty"`
}

type Edge struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Relationship string    `json:"relationship"`
	Timestamp    time.Time `json:"timestamp"`
}

type UploadData struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

type DetectionData struct {
	System         string   `json:"erpSystem"`
	Confidence     float64  `json:"confidence"`
	MatchedColumns []string `json:"matchedColumns"`
	TotalHeaders   int      `json:"totalHeaders"`
}

type MappingStats struct {
	TotalColumns     int                        `json:"totalColumns"`
	HighConfidence   int                        `json:"highConfidence"`
	MediumConfidence int                        `json:"mediumConfidence"`
	LowConfidence    int                        `json:"lowConfidence"`
	Methods          map[models.MatchMethod]int `json:"methods"`
}

type MappingData struct {
	Matches    []models.ColumnMatch    `json:"mappingResults"`
	ColumnMap  models.ColumnMap        `json:"columnMap"`
	Statistics MappingStats            `json:"statistics"`
	Missing    []models.CanonicalField `json:"missing,omitempty"`
}

type ExtractionStats struct {
	OriginalRows     int     `json:"originalRows"`
	ExtractedRows    int     `json:"extractedRows"`
	OriginalColumns  int     `json:"originalColumns"`
	ExtractedColumns int     `json:"extractedColumns"`
	OptionalColumns  int     `json:"optionalColumns"`
	ExcludedColumns  int     `json:"excludedColumns"`
	DataReduction    float64 `json:"dataReduction"` // percent of serialized size removed
	ExpectedRequired int     `json:"expectedRequired"`
	PresentRequired  int     `json:"presentRequired"`
	SkippedRows      int     `json:"skippedRows"`
}

// ExtractionConfig describes how extracted records were produced.
type ExtractionConfig struct {
	Required    []string       `json:"requiredFields"`
	Optional    []string       `json:"optionalFields"`
	Excluded    []string       `json:"excludedFields"`
	SkippedRows int            `json:"skippedRows"`
	SkipReasons map[string]int `json:"skipReasons,omitempty"`
}

type ExtractionData struct {
	Config     ExtractionConfig `json:"config"`
	Statistics ExtractionStats  `json:"statistics"`
}

type ApprovalData struct {
	UserID     string    `json:"userId"`
	Approved   bool      `json:"approved"`
	Comment    string    `json:"comment"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

type TransmissionData struct {
	Endpoint      string          `json:"endpoint"`
	Success       bool            `json:"success"`
	Response      json.RawMessage `json:"response,omitempty"`
	TransmittedAt time.Time       `json:"transmittedAt"`
}

type SourceMetadata struct {
	Filename     string    `json:"filename"`
	FileSize     int64     `json:"fileSize"`
	FileType     string    `json:"fileType"`
	LastModified time.Time `json:"lastModified"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Checksum     string    `json:"checksum"`
}

// HostMetadata describes the machine that processed the upload.
type HostMetadata struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Runtime  string `json:"runtime"`
	Timezone string `json:"timezone"`
}

type SessionMetadata struct {
	SessionID       string `json:"sessionId"`
	WorkspaceFolder string `json:"workspaceFolder,omitempty"`
	CustomerID      string `json:"customerId,omitempty"`
	UserID          string `json:"userId,omitempty"`
}

// DetectedSystem is the best-scoring source system signature.
type DetectedSystem struct {
	Name           string   `json:"name"`
	Confidence     float64  `json:"confidence"`
	MatchedColumns []string `json:"matchedColumns"`
}

type Metadata struct {
	Source   SourceMetadata  `json:"source"`
	System   HostMetadata    `json:"system"`
	Session  SessionMetadata `json:"session"`
	Detected *DetectedSystem `json:"erp,omitempty"`
}

type QualityDimensions struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
}

type QualityIssue struct {
	Severity string `json:"severity"`
	Type     string `json:"type"`
	Message  string `json:"message"`
}

type QualityScore struct {
	Overall         float64           `json:"overall"`
	Dimensions      QualityDimensions `json:"dimensions"`
	Issues          []QualityIssue    `json:"issues"`
	Recommendations []string          `json:"recommendations"`
}

type Summary struct {
	Filename              string   `json:"filename"`
	System                string   `json:"erpSystem"`
	Status                string   `json:"status"`
	TotalSteps            int      `json:"totalSteps"`
	CompletedSteps        int      `json:"completedSteps"`
	ProcessingTimeSeconds float64  `json:"processingTime"`
	DataQuality           *float64 `json:"dataQuality"`
	UserID                string   `json:"userId,omitempty"`
	RowCount              int      `json:"rowCount"`
}

type GraphData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Document is the self-contained, serializable form of a graph.
type Document struct {
	Metadata    Metadata      `json:"metadata"`
	Graph       GraphData     `json:"graph"`
	Quality     *QualityScore `json:"quality"`
	Summary     Summary       `json:"summary"`
	GeneratedAt time.Time     `json:"generatedAt"`
}
