// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package storage

// tables returns the managed tables with the migration history of the
// active dialect, in dependency order (users before capabilities and the
// event log, which reference it).
//
// The Postgres history replays the production deployment's steps so that
// existing databases migrate forward correctly. The SQLite history creates
// each table at its final shape; version numbers are scoped to the
// database they are recorded in, so the differing step counts never mix.
func (s *Store) tables() []Table {
	if s.driver == "postgres" {
		return postgresTables
	}
	return sqliteTables
}

var postgresTables = []Table{
	{
		Name: "users",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS users (
				username VARCHAR(32) NOT NULL PRIMARY KEY,
				password TEXT NOT NULL
			)`,
		}},
	},
	{
		Name: "capabilities",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS capabilities (
				username VARCHAR(32) REFERENCES users(username),
				capability VARCHAR(16) NOT NULL,
				PRIMARY KEY (username, capability)
			)`,
		}},
	},
	{
		Name: "measurements",
		Steps: [][]string{
			{`
			CREATE TABLE IF NOT EXISTS measurements (
				nr INT PRIMARY KEY,
				datetime TIMESTAMP WITH TIME ZONE,
				pressure SMALLINT,
				co2 SMALLINT,
				temperature SMALLINT,
				rh SMALLINT,
				speed SMALLINT,
				auto BOOLEAN
			)`,
			},
			{
				`ALTER TABLE measurements DROP CONSTRAINT measurements_pkey`,
				`ALTER TABLE measurements ADD COLUMN epoch SMALLINT`,
				`UPDATE measurements SET epoch = 0`,
				`ALTER TABLE measurements ADD PRIMARY KEY (epoch, nr)`,
			},
			{
				`ALTER TABLE measurements RENAME COLUMN temperature TO temp`,
			},
			{
				`ALTER TABLE measurements ALTER COLUMN pressure TYPE DECIMAL(6, 1)`,
				`ALTER TABLE measurements ALTER COLUMN temp TYPE DECIMAL(6, 1)`,
				`ALTER TABLE measurements ALTER COLUMN rh TYPE DECIMAL(6, 1)`,
				`ALTER TABLE measurements ALTER COLUMN speed TYPE DECIMAL(6, 1)`,
			},
		},
	},
	{
		Name: "authentication_log",
		Steps: [][]string{
			{`
			CREATE TABLE IF NOT EXISTS authentication_log (
				event_id SERIAL PRIMARY KEY,
				datetime TIMESTAMP WITH TIME ZONE,
				username VARCHAR(32) REFERENCES users(username)
			)`,
			},
			{
				`ALTER TABLE authentication_log ADD COLUMN event_desc VARCHAR(64)`,
			},
			{
				`ALTER TABLE authentication_log DROP COLUMN event_desc`,
				`ALTER TABLE authentication_log ADD COLUMN message VARCHAR(200)`,
			},
		},
	},
}

var sqliteTables = []Table{
	{
		Name: "users",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS users (
				username TEXT NOT NULL PRIMARY KEY,
				password TEXT NOT NULL
			)`,
		}},
	},
	{
		Name: "capabilities",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS capabilities (
				username TEXT REFERENCES users(username),
				capability TEXT NOT NULL,
				PRIMARY KEY (username, capability)
			)`,
		}},
	},
	{
		Name: "measurements",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS measurements (
				epoch INTEGER NOT NULL,
				nr INTEGER NOT NULL,
				datetime TIMESTAMP,
				pressure REAL,
				co2 REAL,
				temp REAL,
				rh REAL,
				speed REAL,
				auto BOOLEAN,
				PRIMARY KEY (epoch, nr)
			)`,
		}},
	},
	{
		Name: "authentication_log",
		Steps: [][]string{{`
			CREATE TABLE IF NOT EXISTS authentication_log (
				event_id INTEGER PRIMARY KEY AUTOINCREMENT,
				datetime TIMESTAMP,
				username TEXT REFERENCES users(username),
				message TEXT
			)`,
		}},
	},
}
