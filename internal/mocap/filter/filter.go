// Package filter applies occlusion and allow-list filtering to decoded frames.
package filter

import (
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// Config selects which objects a frame keeps and in what order.
type Config struct {
	// OcclusionFilter drops occluded objects, including synthesized
	// placeholders.
	OcclusionFilter bool `json:"occlusion_filter"`
	// AllowListActive restricts and reorders output to AllowList. Names
	// missing from the frame are synthesized as occluded placeholders.
	AllowListActive bool     `json:"allow_list_active"`
	AllowList       []string `json:"allow_list"`
}

// Clone returns a copy that shares no slice with c.
func (c Config) Clone() Config {
	if c.AllowList != nil {
		c.AllowList = append([]string(nil), c.AllowList...)
	}
	return c
}

// Apply returns a new frame holding the objects selected by c. The input
// frame is not modified.
func Apply(c Config, in mocap.Frame) mocap.Frame {
	out := in
	if !c.AllowListActive {
		out.Objects = make([]mocap.Object, 0, len(in.Objects))
		for _, obj := range in.Objects {
			if c.OcclusionFilter && obj.Occluded {
				continue
			}
			out.Objects = append(out.Objects, obj)
		}
		return out
	}

	byName := make(map[string]int, len(in.Objects))
	for i, obj := range in.Objects {
		// First occurrence wins when the feed repeats a name.
		if _, dup := byName[obj.Name]; !dup {
			byName[obj.Name] = i
		}
	}
	out.Objects = make([]mocap.Object, 0, len(c.AllowList))
	for _, name := range c.AllowList {
		obj := mocap.OccludedObject(name)
		if i, ok := byName[name]; ok {
			obj = in.Objects[i]
		}
		if c.OcclusionFilter && obj.Occluded {
			continue
		}
		out.Objects = append(out.Objects, obj)
	}
	return out
}
