// Package main provides the ubimqtt command-line tool.
//
// It generates and stores EC key pairs, announces public keys, and
// publishes or subscribes to plain, signed or encrypted messages:
//
//	ubimqtt keygen -keystore ~/.ubimqtt -name thermostat
//	ubimqtt announce -server localhost:1883 -keystore ~/.ubimqtt -name thermostat -publisher thermostat
//	ubimqtt publish -server localhost:1883 -topic home/temp -message 21.5 -keystore ~/.ubimqtt -sign thermostat
//	ubimqtt subscribe -server localhost:1883 -topic home/temp -publisher thermostat
//
// The key store passphrase is read from the UBIMQTT_PASSPHRASE environment
// variable. Common settings may be kept in a TOML file passed with -config;
// flags given on the command line take precedence.
package main
