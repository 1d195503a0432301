package formats

import "gorm.io/datatypes"

// DataFormat describes one supported wire format and the processor functions
// that parse and write it.
type DataFormat struct {
	FormatName  string         `gorm:"column:format_name;primaryKey;size:64;not null"`
	DisplayName string         `gorm:"column:display_name;size:190;not null"`
	Parser      datatypes.JSON `gorm:"column:parser;not null"`
	Writer      datatypes.JSON `gorm:"column:writer;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DataFormat) TableName() string {
	return "data_formats"
}

// ProcessorDescriptor is the decoded shape of the Parser and Writer columns.
type ProcessorDescriptor struct {
	Function string `json:"function"`
}
