package texts

// Text stores one localized content string, unique per (key, language). This
// is reference data synchronized wholesale from the spreadsheet, not an
// operational record.
type Text struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Key      string `gorm:"column:text_key;size:500;not null;uniqueIndex:idx_texts_key_lang,priority:1"`
	Language string `gorm:"column:language;size:2;not null;uniqueIndex:idx_texts_key_lang,priority:2"`
	Content  string `gorm:"column:content;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Text) TableName() string {
	return "texts"
}
