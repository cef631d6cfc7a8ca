// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metadata dereferences the off-chain description a campaign points
// to
package metadata

const (
	PlaceholderTitle       = "Error loading title"
	PlaceholderDescription = "Error loading description"
	PlaceholderLocation    = "Error loading location"
	PlaceholderImage       = "blockfundr_profile.png"
)

// Metadata is the JSON document stored at a campaign's metadata reference
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Image       string `json:"image"`
	// Placeholder is set when any field was filled in locally
	Placeholder bool `json:"placeholder,omitempty"`
}

// Placeholders returns the document shown when nothing could be loaded
func Placeholders() Metadata {
	return Metadata{
		Title:       PlaceholderTitle,
		Description: PlaceholderDescription,
		Location:    PlaceholderLocation,
		Image:       PlaceholderImage,
		Placeholder: true,
	}
}

func (m Metadata) withDefaults() Metadata {
	if m.Title == "" {
		m.Title = PlaceholderTitle
		m.Placeholder = true
	}
	if m.Description == "" {
		m.Description = PlaceholderDescription
		m.Placeholder = true
	}
	if m.Location == "" {
		m.Location = PlaceholderLocation
		m.Placeholder = true
	}
	if m.Image == "" {
		m.Image = PlaceholderImage
		m.Placeholder = true
	}
	return m
}
