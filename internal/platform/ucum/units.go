package ucum

// baseUnits are the UCUM base units. Every canonical form is a product of
// powers of these.
var baseUnits = map[string]bool{
	"m":   true,
	"s":   true,
	"g":   true,
	"rad": true,
	"K":   true,
	"C":   true,
	"cd":  true,
}

// definition describes a derived unit as factor times an expression over
// base units. metric units accept SI prefixes.
type definition struct {
	factor string
	base   string
	metric bool
}

const avogadro = "602213670000000000000000"

var definitions = map[string]definition{
	// dimensionless
	"%":       {"0.01", "1", false},
	"[ppth]":  {"0.001", "1", false},
	"[ppm]":   {"0.000001", "1", false},
	"[ppb]":   {"0.000000001", "1", false},
	"mol":     {avogadro, "1", true},
	"eq":      {avogadro, "1", true},
	"osm":     {avogadro, "1", true},
	"[iU]":    {"1", "1", true},
	"[IU]":    {"1", "1", true},
	"[arb'U]": {"1", "1", false},
	"[pH]":    {"1", "1", false},

	// catalytic activity
	"kat": {avogadro, "s-1", true},
	"U":   {"10036894500000000", "s-1", true},

	// length
	"[in_i]": {"0.0254", "m", false},
	"[ft_i]": {"0.3048", "m", false},
	"[yd_i]": {"0.9144", "m", false},
	"[mi_i]": {"1609.344", "m", false},
	"Ao":     {"0.0000000001", "m", false},

	// area and volume
	"ar":       {"100", "m2", true},
	"L":        {"0.001", "m3", true},
	"l":        {"0.001", "m3", true},
	"[gal_us]": {"0.003785411784", "m3", false},
	"[qt_us]":  {"0.000946352946", "m3", false},
	"[pt_us]":  {"0.000473176473", "m3", false},
	"[foz_us]": {"0.0000295735295625", "m3", false},
	"[tsp_us]": {"0.00000492892159375", "m3", false},
	"[tbs_us]": {"0.00001478676478125", "m3", false},
	"[drp]":    {"0.00000005", "m3", false},

	// time
	"min": {"60", "s", false},
	"h":   {"3600", "s", false},
	"d":   {"86400", "s", false},
	"wk":  {"604800", "s", false},
	"mo":  {"2629800", "s", false},
	"a":   {"31557600", "s", false},
	"Hz":  {"1", "s-1", true},

	// mass
	"t":       {"1000000", "g", true},
	"u":       {"0.0000000000000000000000016605402", "g", true},
	"[lb_av]": {"453.59237", "g", false},
	"[oz_av]": {"28.349523125", "g", false},
	"[gr]":    {"0.06479891", "g", false},

	// force, pressure, energy, power
	"N":      {"1000", "g.m.s-2", true},
	"Pa":     {"1000", "g.m-1.s-2", true},
	"bar":    {"100000000", "g.m-1.s-2", true},
	"atm":    {"101325000", "g.m-1.s-2", false},
	"m[Hg]":  {"133322000", "g.m-1.s-2", true},
	"m[H2O]": {"9806650", "g.m-1.s-2", true},
	"J":      {"1000", "g.m2.s-2", true},
	"cal":    {"4184", "g.m2.s-2", true},
	"[Cal]":  {"4184000", "g.m2.s-2", false},
	"W":      {"1000", "g.m2.s-3", true},

	// electromagnetic
	"A":   {"1", "C.s-1", true},
	"V":   {"1000", "g.m2.s-2.C-1", true},
	"Ohm": {"1000", "g.m2.s-1.C-2", true},

	// angle
	"deg": {"0.017453292519943295", "rad", false},
}

// special units need an offset and cannot be combined with other units.
type special struct {
	offset string // added before scaling
	num    string
	den    string
}

var specials = map[string]special{
	"Cel":    {offset: "273.15", num: "1", den: "1"},
	"[degF]": {offset: "459.67", num: "5", den: "9"},
}

// prefixes are tried longest first.
var prefixes = []struct {
	symbol string
	factor string
}{
	{"da", "10"},
	{"Y", "1000000000000000000000000"},
	{"Z", "1000000000000000000000"},
	{"E", "1000000000000000000"},
	{"P", "1000000000000000"},
	{"T", "1000000000000"},
	{"G", "1000000000"},
	{"M", "1000000"},
	{"k", "1000"},
	{"h", "100"},
	{"d", "0.1"},
	{"c", "0.01"},
	{"m", "0.001"},
	{"u", "0.000001"},
	{"n", "0.000000001"},
	{"p", "0.000000000001"},
	{"f", "0.000000000000001"},
	{"a", "0.000000000000000001"},
	{"z", "0.000000000000000000001"},
	{"y", "0.000000000000000000000001"},
}
