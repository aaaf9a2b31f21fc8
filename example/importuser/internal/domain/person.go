// Package domain holds the item types of the import job.
package domain

import "unicode/utf8"

// Person is one row of the people table. The natural key is
// (FirstName, LastName).
type Person struct {
	ID        uint   `gorm:"primaryKey"`
	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
}

func (Person) TableName() string { return "people" }

// PersonRecord is the exported form of a Person.
type PersonRecord struct {
	FirstName string `parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Initial   string `parquet:"name=initial, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewPersonRecord copies p. Initial is the first letter of the last name,
// used to partition the export; "_" when there is no valid one.
func NewPersonRecord(p Person) PersonRecord {
	initial := "_"
	if r, _ := utf8.DecodeRuneInString(p.LastName); r != utf8.RuneError {
		initial = string(r)
	}
	return PersonRecord{FirstName: p.FirstName, LastName: p.LastName, Initial: initial}
}
