package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=4 means the integer value is scaled by 1e4.
type Scale int32

// ScaleSpec defines scaling for an instrument's numeric fields.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// Venue describes a brokerage or exchange that accepts orders.
type Venue struct {
	ID   VenueID
	Name string
}

// Instrument describes a tradable contract.
type Instrument struct {
	ID      InstrumentID
	VenueID VenueID
	Symbol  string
	Scale   ScaleSpec
}

// Registry stores venue and instrument mappings in a compact form.
// It is built once at startup and read-only afterwards.
type Registry struct {
	venues             []Venue
	instruments        []Instrument
	venueByName        map[string]VenueID
	instrumentBySymbol map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:        make(map[string]VenueID),
		instrumentBySymbol: make(map[string]InstrumentID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddInstrument registers a new instrument and returns its ID.
func (r *Registry) AddInstrument(symbol string, venueID VenueID, scale ScaleSpec) (InstrumentID, error) {
	if symbol == "" {
		return 0, fmt.Errorf("instrument symbol is empty")
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, fmt.Errorf("venue id not found: %d", venueID)
	}
	if id, ok := r.instrumentBySymbol[symbol]; ok {
		return id, fmt.Errorf("instrument already exists: %s", symbol)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, Instrument{
		ID:      id,
		VenueID: venueID,
		Symbol:  symbol,
		Scale:   scale,
	})
	r.instrumentBySymbol[symbol] = id
	return id, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentCount returns the number of registered instruments.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// InstrumentIDBySymbol returns the instrument ID for a symbol.
func (r *Registry) InstrumentIDBySymbol(symbol string) (InstrumentID, bool) {
	id, ok := r.instrumentBySymbol[symbol]
	return id, ok
}
