package domain

// StructureType classifies a node of the browse tree.
type StructureType string

const (
	StructureTypeNone           StructureType = ""
	StructureTypeTable          StructureType = "table"
	StructureTypeView           StructureType = "view"
	StructureTypeDatabaseSwitch StructureType = "database_switch"
	StructureTypeHistory        StructureType = "history"
)

// StructureNode is one node of a connection's schema tree.
type StructureNode struct {
	Name     string          `json:"name"`
	Type     StructureType   `json:"type"`
	Schema   string          `json:"schema,omitempty"`
	Children []StructureNode `json:"children,omitempty"`
}
