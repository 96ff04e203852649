package models

import (
	"time"

	"gorm.io/datatypes"
)

// Product is one highlighted product inside a deal
type Product struct {
	Title    string `json:"title"`
	NewPrice string `json:"new_price"`
	OldPrice string `json:"old_price"`
	ImageURL string `json:"product_image_url"`
	Link     string `json:"link"`
}

// Analysis is the structured extraction result for one raw message
type Analysis struct {
	ID              uint                         `json:"id" gorm:"primaryKey;autoIncrement"`
	RawMessageID    uint                         `json:"raw_message_id" gorm:"not null;uniqueIndex"`
	IsSale          bool                         `json:"is_sale"`
	IsPersonal      bool                         `json:"is_personal"`
	Title           string                       `json:"title" gorm:"type:varchar(255)"`
	Grabber         string                       `json:"grabber" gorm:"type:varchar(255)"`
	Description     string                       `json:"description" gorm:"type:text"`
	MainLink        string                       `json:"main_link" gorm:"type:varchar(2048)"`
	Products        datatypes.JSONSlice[Product] `json:"products"`
	DealProbability float64                      `json:"deal_probability"`
	IsNewDealBetter bool                         `json:"is_new_deal_better"`
	CreatedAt       time.Time                    `json:"created_at"`

	RawMessage *RawMessage `json:"-" gorm:"foreignKey:RawMessageID"`
}

// TableName specifies the table name for Analysis
func (Analysis) TableName() string {
	return "analyses"
}

// Qualifies reports whether the analysis is a genuine, non-personal sale
// above threshold
func (a *Analysis) Qualifies(threshold float64) bool {
	return a.IsSale && !a.IsPersonal && a.DealProbability > threshold
}
