package ledger

// DefaultSeed is the starter pantry used when no persisted snapshot exists.
func DefaultSeed() []Entry {
	return []Entry{
		{Name: "leche", Unit: "liters", Status: StatusLow},
		{Name: "huevos", Unit: DefaultUnit, Status: StatusHigh},
		{Name: "pan", Unit: "loaf", Status: StatusMedium},
		{Name: "azúcar", Unit: "kg", Status: StatusHigh},
		{Name: "aceite", Unit: "bottle", Status: StatusMedium},
		{Name: "arroz", Unit: "kg", Status: StatusLow},
		{Name: "fideos", Unit: "package", Status: StatusHigh},
	}
}
