// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

const (
	CurrentAppVersion      = "1.0.0"
	CurrentProtocolVersion = 1
)

// Document keys, relative to the data directory.
const (
	DocRoster      = "settings/roster.json"
	DocCurrentGame = "settings/currentGame.json"
	gamesDir       = "games"
)

// DocGames is the doc name used in SNAPSHOT messages for the saved game list.
// It is not a stored document.
const DocGames = "games"

// Game status values.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Auth modes.
const (
	AuthModePassword = "password"
	AuthModeSSO      = "sso"
	AuthModeMock     = "mock"
)

const (
	defaultAuthCookieName = "lineup_auth"
	mockEditorCookieName  = "mock_editor"
)

// DefaultTeamName is printed at the top of exports.
const DefaultTeamName = "Our Lady of Good Counsel 2026 JV Softball"
