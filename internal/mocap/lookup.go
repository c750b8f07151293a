package mocap

// Object returns the Object with the given name, or an occluded placeholder
// when the frame does not contain it.
func (f Frame) Object(name string) Object {
	if o, ok := f.find(name); ok {
		return o.Clone()
	}
	return OccludedObject(name)
}

// Has reports whether the frame contains an Object with the given name.
func (f Frame) Has(name string) bool {
	_, ok := f.find(name)
	return ok
}

func (f Frame) find(name string) (Object, bool) {
	for _, o := range f.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return Object{}, false
}

// ObjectsByName returns one Object per requested name, in request order,
// synthesising placeholders for names the frame does not contain.
func (f Frame) ObjectsByName(names ...string) []Object {
	out := make([]Object, 0, len(names))
	for _, name := range names {
		out = append(out, f.Object(name))
	}
	return out
}

// Visible returns the non-occluded Objects in frame order.
func (f Frame) Visible() []Object {
	var out []Object
	for _, o := range f.Objects {
		if !o.Occluded {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Names returns the Object names in frame order.
func (f Frame) Names() []string {
	names := make([]string, len(f.Objects))
	for i, o := range f.Objects {
		names[i] = o.Name
	}
	return names
}

// Marker returns the Marker with the given name, or an occluded placeholder.
func (o Object) Marker(name string) Marker {
	for _, m := range o.Markers {
		if m.Name == name {
			return m
		}
	}
	return OccludedMarker(name)
}
