// Package sales models one Connecticut real-estate sale transaction as it
// lands in the bronze table: fourteen text fields in a fixed order.
package sales

// Value is a text cell that may be absent. The zero Value is absent, which is
// distinct from a present empty string.
type Value struct {
	s     string
	valid bool
}

// Text returns a present value holding s.
func Text(s string) Value { return Value{s: s, valid: true} }

// Absent returns the absent-value marker.
func Absent() Value { return Value{} }

// IsAbsent reports whether v is the absent marker.
func (v Value) IsAbsent() bool { return !v.valid }

// String returns the text, or "" when absent.
func (v Value) String() string { return v.s }

// Column pairs the bronze column name with the CSV header it comes from.
type Column struct {
	Name   string
	Header string
}

// NumColumns is the width of the bronze schema.
const NumColumns = 14

// Columns is the bronze schema in insert order.
var Columns = [NumColumns]Column{
	{Name: "serial_number", Header: "Serial Number"},
	{Name: "list_year", Header: "List Year"},
	{Name: "date_recorded", Header: "Date Recorded"},
	{Name: "town", Header: "Town"},
	{Name: "address", Header: "Address"},
	{Name: "assessed_value", Header: "Assessed Value"},
	{Name: "sale_amount", Header: "Sale Amount"},
	{Name: "sales_ratio", Header: "Sales Ratio"},
	{Name: "property_type", Header: "Property Type"},
	{Name: "residential_type", Header: "Residential Type"},
	{Name: "non_use_code", Header: "Non Use Code"},
	{Name: "assessor_remarks", Header: "Assessor Remarks"},
	{Name: "opm_remarks", Header: "OPM remarks"},
	{Name: "location", Header: "Location"},
}

// ColumnNames returns the bronze column names in insert order.
func ColumnNames() []string {
	out := make([]string, NumColumns)
	for i, c := range Columns {
		out[i] = c.Name
	}
	return out
}

// TownColumn is the column verification groups by.
const TownColumn = "town"

// Record is one sale transaction.
type Record struct {
	SerialNumber    Value
	ListYear        Value
	DateRecorded    Value
	Town            Value
	Address         Value
	AssessedValue   Value
	SaleAmount      Value
	SalesRatio      Value
	PropertyType    Value
	ResidentialType Value
	NonUseCode      Value
	AssessorRemarks Value
	OPMRemarks      Value
	Location        Value
}

// fields returns pointers to r's fields in Columns order.
func (r *Record) fields() [NumColumns]*Value {
	return [NumColumns]*Value{
		&r.SerialNumber,
		&r.ListYear,
		&r.DateRecorded,
		&r.Town,
		&r.Address,
		&r.AssessedValue,
		&r.SaleAmount,
		&r.SalesRatio,
		&r.PropertyType,
		&r.ResidentialType,
		&r.NonUseCode,
		&r.AssessorRemarks,
		&r.OPMRemarks,
		&r.Location,
	}
}

// Field returns the value at column index i. It panics if i is out of range.
func (r Record) Field(i int) Value {
	return *r.fields()[i]
}

// Set assigns the value at column index i. It panics if i is out of range.
func (r *Record) Set(i int, v Value) {
	*r.fields()[i] = v
}

// Values returns the insert arguments in column order. Absent values become
// the empty string.
func (r Record) Values() []any {
	out := make([]any, NumColumns)
	for i, f := range r.fields() {
		out[i] = f.String()
	}
	return out
}
