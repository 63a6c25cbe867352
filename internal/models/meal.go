package models

import "time"

const MealSourcePhoto = "photo"

// MealEntry records one analysed meal. B, J and U are protein, fat and
// carbohydrate grams.
type MealEntry struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_meals_user_dt" json:"user_id"`
	CreatedAt time.Time `gorm:"column:dt;autoCreateTime;index:idx_meals_user_dt" json:"dt"`
	Source    string    `gorm:"column:source;size:32;not null" json:"source"`
	ItemJSON  string    `gorm:"column:item_json;type:text;not null" json:"item_json"`
	Kcal      float64   `gorm:"column:kcal;not null;default:0" json:"kcal"`
	B         float64   `gorm:"column:b;not null;default:0" json:"b"`
	J         float64   `gorm:"column:j;not null;default:0" json:"j"`
	U         float64   `gorm:"column:u;not null;default:0" json:"u"`
}

func (MealEntry) TableName() string {
	return "meals"
}

// MacroTotals sums the macro fields of the given meals.
type MacroTotals struct {
	Kcal float64 `json:"kcal"`
	B    float64 `json:"b"`
	J    float64 `json:"j"`
	U    float64 `json:"u"`
}

func SumMeals(meals []MealEntry) MacroTotals {
	var t MacroTotals
	for _, m := range meals {
		t.Kcal += m.Kcal
		t.B += m.B
		t.J += m.J
		t.U += m.U
	}
	return t
}
