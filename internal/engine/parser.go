package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/datasync/internal/domain"
)

// Типы узлов sync-flow.
const (
	KindInput   = "INPUT"
	KindMapping = "MAPPING"
	KindOutput  = "OUTPUT"
)

// DefaultBatchSize — размер батча, если у INPUT узла он не задан.
const DefaultBatchSize = 1000

// legacyMappingLabel — подпись узла маппинга в старых версиях редактора.
const legacyMappingLabel = "字段映射"

var validate = validator.New(validator.WithRequiredStructEnabled())

// SyncSpec — разобранное определение задачи синхронизации.
type SyncSpec struct {
	Input    InputSpec
	Mappings []MappingSpec
	Output   OutputSpec
}

// InputSpec — источник: подключение, SQL и размер батча.
type InputSpec struct {
	NodeID       string
	Label        string
	ConnectionID string `validate:"required"`
	SQL          string `validate:"required"`
	BatchSize    int    `validate:"gt=0"`
}

// FieldMapping — переименование колонки source → target.
type FieldMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// MappingSpec — один MAPPING узел (упорядоченный список пар).
type MappingSpec struct {
	NodeID string
	Label  string
	Pairs  []FieldMapping
}

// OutputSpec — приёмник: таблица, режим записи, стратегия конфликтов, поля.
type OutputSpec struct {
	NodeID       string
	Label        string
	ConnectionID string                  `validate:"required"`
	Table        string                  `validate:"required"`
	WriteMode    domain.WriteMode        `validate:"oneof=APPEND OVERWRITE"`
	Conflict     domain.ConflictStrategy `validate:"oneof=UPDATE IGNORE ERROR"`

	// PrimaryKey — ключ уровня таблицы (может не совпадать ни с одним полем).
	PrimaryKey string

	Fields []domain.TargetField `validate:"required,min=1,dive"`

	DeleteAfterSync  bool
	SourcePrimaryKey string
	SourceTable      string
}

// KeyColumn возвращает колонку первичного ключа для upsert:
// PrimaryKey уровня таблицы, иначе первое поле с IsPK.
func (o *OutputSpec) KeyColumn() string {
	if o.PrimaryKey != "" {
		return o.PrimaryKey
	}
	for _, f := range o.Fields {
		if f.IsPK {
			return f.Name
		}
	}
	return ""
}

// NeedsSurrogateKey возвращает true, если при создании таблицы нужен
// суррогатный id: ни одно поле не помечено ключом, нет поля "id"
// и PrimaryKey не называет ни одно из полей.
func (o *OutputSpec) NeedsSurrogateKey() bool {
	for _, f := range o.Fields {
		if f.IsPK || strings.EqualFold(f.Name, "id") {
			return false
		}
		if o.PrimaryKey != "" && strings.EqualFold(f.Name, o.PrimaryKey) {
			return false
		}
	}
	return true
}

// DeletesSource возвращает true, если после загрузки нужно удалять строки источника.
func (o *OutputSpec) DeletesSource() bool {
	return o.DeleteAfterSync && o.SourcePrimaryKey != "" && o.SourceTable != ""
}

// syncKind классифицирует узел sync-flow.
func syncKind(n *Node) string {
	switch {
	case strings.EqualFold(n.Type, "input") || n.Kind == KindInput:
		return KindInput
	case strings.EqualFold(n.Type, "output") || n.Kind == KindOutput:
		return KindOutput
	case strings.EqualFold(n.Type, "mapping") || n.Kind == KindMapping || n.Label == legacyMappingLabel:
		return KindMapping
	default:
		return ""
	}
}

// ParseSyncSpec извлекает определение синхронизации из графа и валидирует его.
//
// Проверяет:
// - Наличие INPUT и OUTPUT узлов
// - Непустой SQL и ID подключения источника
// - Таблицу, ID подключения и хотя бы одно поле приёмника
// - Допустимые writeMode и conflictStrategy
//
// MAPPING узлы берутся в порядке объявления.
func ParseSyncSpec(g *Graph) (*SyncSpec, error) {
	var input, output *Node
	spec := &SyncSpec{}

	for _, n := range g.Nodes() {
		switch syncKind(n) {
		case KindInput:
			if input == nil {
				input = n
			}
		case KindOutput:
			if output == nil {
				output = n
			}
		case KindMapping:
			m, err := parseMapping(n)
			if err != nil {
				return nil, err
			}
			spec.Mappings = append(spec.Mappings, m)
		}
	}

	if input == nil {
		return nil, NewValidationError("", "nodes",
			"task must have an input node", ErrMissingInput)
	}
	if output == nil {
		return nil, NewValidationError("", "nodes",
			"task must have an output node", ErrMissingOutput)
	}

	spec.Input = InputSpec{
		NodeID:       input.ID,
		Label:        input.Label,
		ConnectionID: input.String("dataSourceId"),
		SQL:          strings.TrimSpace(input.String("sql")),
		BatchSize:    input.Int("batchSize", DefaultBatchSize),
	}
	if spec.Input.BatchSize <= 0 {
		spec.Input.BatchSize = DefaultBatchSize
	}

	out, err := parseOutput(output)
	if err != nil {
		return nil, err
	}
	spec.Output = out

	if err := validate.Struct(spec); err != nil {
		return nil, translate(spec, err)
	}

	return spec, nil
}

func parseMapping(n *Node) (MappingSpec, error) {
	m := MappingSpec{NodeID: n.ID, Label: n.Label}
	raw, ok := n.Config["mappings"]
	if !ok || raw == nil {
		return m, nil
	}
	if err := remarshal(raw, &m.Pairs); err != nil {
		return m, NewValidationError(n.ID, "mappings",
			fmt.Sprintf("invalid mappings: %v", err), nil)
	}
	return m, nil
}

func parseOutput(n *Node) (OutputSpec, error) {
	out := OutputSpec{
		NodeID:           n.ID,
		Label:            n.Label,
		ConnectionID:     n.String("dataSourceId"),
		Table:            strings.TrimSpace(n.String("tableName")),
		WriteMode:        domain.WriteMode(strings.ToUpper(n.String("writeMode"))),
		Conflict:         domain.ConflictStrategy(strings.ToUpper(n.String("conflictStrategy"))),
		PrimaryKey:       strings.TrimSpace(n.String("primaryKey")),
		DeleteAfterSync:  n.Bool("deleteAfterSync"),
		SourcePrimaryKey: strings.TrimSpace(n.String("sourcePrimaryKey")),
		SourceTable:      strings.TrimSpace(n.String("sourceTableName")),
	}
	if out.WriteMode == "" {
		out.WriteMode = domain.WriteModeAppend
	}
	if out.Conflict == "" {
		out.Conflict = domain.ConflictUpdate
	}

	if raw, ok := n.Config["fields"]; ok && raw != nil {
		if err := remarshal(raw, &out.Fields); err != nil {
			return out, NewValidationError(n.ID, "fields",
				fmt.Sprintf("invalid fields: %v", err), nil)
		}
	}
	for i := range out.Fields {
		if strings.TrimSpace(out.Fields[i].Type) == "" {
			out.Fields[i].Type = "VARCHAR(255)"
		}
	}

	return out, nil
}

// translate превращает ошибки validator в ValidationError.
func translate(spec *SyncSpec, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewValidationError("", "", err.Error(), nil)
	}

	fe := verrs[0]
	ns := fe.StructNamespace()
	nodeID := spec.Output.NodeID
	if strings.HasPrefix(ns, "SyncSpec.Input.") {
		nodeID = spec.Input.NodeID
	}

	switch {
	case ns == "SyncSpec.Input.SQL":
		return NewValidationError(nodeID, "sql", "source SQL is required", ErrEmptySQL)
	case ns == "SyncSpec.Input.ConnectionID":
		return NewValidationError(nodeID, "dataSourceId", "source connection is required", ErrMissingConnection)
	case ns == "SyncSpec.Output.ConnectionID":
		return NewValidationError(nodeID, "dataSourceId", "target connection is required", ErrMissingConnection)
	case ns == "SyncSpec.Output.Table":
		return NewValidationError(nodeID, "tableName", "target table is required", ErrEmptyTable)
	case ns == "SyncSpec.Output.Fields":
		return NewValidationError(nodeID, "fields", "no output fields configured", ErrNoFields)
	case strings.HasPrefix(ns, "SyncSpec.Output.Fields["):
		return NewValidationError(nodeID, "fields", "output field name is required", ErrNoFields)
	default:
		return NewValidationError(nodeID, fe.Field(),
			fmt.Sprintf("invalid %s: %v", fe.Field(), fe.Value()), nil)
	}
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
