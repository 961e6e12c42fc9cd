// Package disasm decodes single 32-bit RISC-V (RV32I + the RV32M
// multiply/divide extension) instruction words.
package disasm

import (
	"fmt"
	"regexp"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

// Opcode names every instruction this translator can emit IR for.
type Opcode int

const (
	Invalid Opcode = iota

	// Integer register-register (§4.2 ALU)
	ADD
	AND
	MUL
	MULH
	MULHU
	MULHSU
	DIV
	DIVU
	REM
	REMU
	OR
	SLL
	SLT
	SLTU
	SRA
	SRL
	SUB
	XOR

	// Integer register-immediate
	ADDI
	ANDI
	ORI
	SLLI
	SLTI
	SLTIU
	SRAI
	SRLI
	XORI

	// Upper immediate
	AUIPC
	LUI

	// Branches
	BEQ
	BNE
	BGE
	BGEU
	BLT
	BLTU

	// Jumps
	JAL
	JALR

	// Loads/stores
	LB
	LBU
	LH
	LHU
	LW
	SB
	SH
	SW

	// System
	ECALL
	EBREAK
	FENCE
	FENCEI
	CSRRW
	CSRRWI
	CSRRS
	CSRRSI
	CSRRC
	CSRRCI
)

var names = map[Opcode]string{
	ADD: "add", AND: "and", MUL: "mul", MULH: "mulh", MULHU: "mulhu", MULHSU: "mulhsu",
	DIV: "div", DIVU: "divu", REM: "rem", REMU: "remu", OR: "or", SLL: "sll", SLT: "slt",
	SLTU: "sltu", SRA: "sra", SRL: "srl", SUB: "sub", XOR: "xor",
	ADDI: "addi", ANDI: "andi", ORI: "ori", SLLI: "slli", SLTI: "slti", SLTIU: "sltiu",
	SRAI: "srai", SRLI: "srli", XORI: "xori",
	AUIPC: "auipc", LUI: "lui",
	BEQ: "beq", BNE: "bne", BGE: "bge", BGEU: "bgeu", BLT: "blt", BLTU: "bltu",
	JAL: "jal", JALR: "jalr",
	LB: "lb", LBU: "lbu", LH: "lh", LHU: "lhu", LW: "lw", SB: "sb", SH: "sh", SW: "sw",
	ECALL: "ecall", EBREAK: "ebreak", FENCE: "fence", FENCEI: "fence.i",
	CSRRW: "csrrw", CSRRWI: "csrrwi", CSRRS: "csrrs", CSRRSI: "csrrsi", CSRRC: "csrrc", CSRRCI: "csrrci",
}

func (op Opcode) String() string {
	if n, ok := names[op]; ok {
		return n
	}
	return "invalid"
}

// Reg is an integer register index in 0..31.
type Reg uint8

// Instruction is the decoded form of one 32-bit RISC-V word.
type Instruction struct {
	Addr object.GuestAddress
	Word uint32
	Op   Opcode
	Rd   Reg
	Rs1  Reg
	Rs2  Reg
	Imm  int32 // signed immediate, meaning depends on Op
	CSR  uint16
	Size int // always 4
}

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// String renders the disassembly text used as IR debug metadata (§6),
// with characters illegal in LLVM identifiers replaced by '_'.
func (in Instruction) String() string {
	var s string
	switch {
	case in.Op == ECALL || in.Op == EBREAK || in.Op == FENCE || in.Op == FENCEI:
		s = in.Op.String()
	case isBranch(in.Op):
		s = fmt.Sprintf("%s x%d, x%d, %d", in.Op, in.Rs1, in.Rs2, in.Imm)
	case in.Op == JAL:
		s = fmt.Sprintf("jal x%d, %d", in.Rd, in.Imm)
	case in.Op == JALR:
		s = fmt.Sprintf("jalr x%d, x%d, %d", in.Rd, in.Rs1, in.Imm)
	case in.Op == AUIPC || in.Op == LUI:
		s = fmt.Sprintf("%s x%d, 0x%x", in.Op, in.Rd, uint32(in.Imm)>>12)
	case isLoad(in.Op):
		s = fmt.Sprintf("%s x%d, %d(x%d)", in.Op, in.Rd, in.Imm, in.Rs1)
	case isStore(in.Op):
		s = fmt.Sprintf("%s x%d, %d(x%d)", in.Op, in.Rs2, in.Imm, in.Rs1)
	case isImmALU(in.Op):
		s = fmt.Sprintf("%s x%d, x%d, %d", in.Op, in.Rd, in.Rs1, in.Imm)
	case isCSR(in.Op):
		s = fmt.Sprintf("%s x%d, 0x%x, x%d", in.Op, in.Rd, in.CSR, in.Rs1)
	default:
		s = fmt.Sprintf("%s x%d, x%d, x%d", in.Op, in.Rd, in.Rs1, in.Rs2)
	}
	return sanitizePattern.ReplaceAllString(s, "_")
}

func isBranch(op Opcode) bool {
	switch op {
	case BEQ, BNE, BGE, BGEU, BLT, BLTU:
		return true
	}
	return false
}

func isLoad(op Opcode) bool {
	switch op {
	case LB, LBU, LH, LHU, LW:
		return true
	}
	return false
}

func isStore(op Opcode) bool {
	switch op {
	case SB, SH, SW:
		return true
	}
	return false
}

func isImmALU(op Opcode) bool {
	switch op {
	case ADDI, ANDI, ORI, SLLI, SLTI, SLTIU, SRAI, SRLI, XORI:
		return true
	}
	return false
}

func isCSR(op Opcode) bool {
	switch op {
	case CSRRW, CSRRWI, CSRRS, CSRRSI, CSRRC, CSRRCI:
		return true
	}
	return false
}

// opcode field values (bits [6:0])
const (
	opLUI      = 0x37
	opAUIPC    = 0x17
	opJAL      = 0x6F
	opJALR     = 0x67
	opBranch   = 0x63
	opLoad     = 0x03
	opStore    = 0x23
	opImm      = 0x13
	opReg      = 0x33
	opMiscMem  = 0x0F
	opSystem   = 0x73
)

func bits(word uint32, hi, lo uint) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(v uint32, bitWidth uint) int32 {
	shift := 32 - bitWidth
	return int32(v<<shift) >> shift
}

// Decode decodes the 32-bit little-endian RISC-V word at addr.
func Decode(addr object.GuestAddress, word uint32) (Instruction, error) {
	in := Instruction{Addr: addr, Word: word, Size: 4}

	opcode := bits(word, 6, 0)
	rd := Reg(bits(word, 11, 7))
	funct3 := bits(word, 14, 12)
	rs1 := Reg(bits(word, 19, 15))
	rs2 := Reg(bits(word, 24, 20))
	funct7 := bits(word, 31, 25)

	switch opcode {
	case opLUI:
		in.Op = LUI
		in.Rd = rd
		in.Imm = int32(word & 0xFFFFF000)
		return in, nil

	case opAUIPC:
		in.Op = AUIPC
		in.Rd = rd
		in.Imm = int32(word & 0xFFFFF000)
		return in, nil

	case opJAL:
		in.Op = JAL
		in.Rd = rd
		imm := (bits(word, 31, 31) << 20) | (bits(word, 19, 12) << 12) |
			(bits(word, 20, 20) << 11) | (bits(word, 30, 21) << 1)
		in.Imm = signExtend(imm, 21)
		return in, nil

	case opJALR:
		if funct3 != 0 {
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		in.Op = JALR
		in.Rd = rd
		in.Rs1 = rs1
		in.Imm = signExtend(bits(word, 31, 20), 12)
		return in, nil

	case opBranch:
		imm := (bits(word, 31, 31) << 12) | (bits(word, 7, 7) << 11) |
			(bits(word, 30, 25) << 5) | (bits(word, 11, 8) << 1)
		in.Imm = signExtend(imm, 13)
		in.Rs1 = rs1
		in.Rs2 = rs2
		switch funct3 {
		case 0:
			in.Op = BEQ
		case 1:
			in.Op = BNE
		case 4:
			in.Op = BLT
		case 5:
			in.Op = BGE
		case 6:
			in.Op = BLTU
		case 7:
			in.Op = BGEU
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opLoad:
		in.Rd = rd
		in.Rs1 = rs1
		in.Imm = signExtend(bits(word, 31, 20), 12)
		switch funct3 {
		case 0:
			in.Op = LB
		case 1:
			in.Op = LH
		case 2:
			in.Op = LW
		case 4:
			in.Op = LBU
		case 5:
			in.Op = LHU
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opStore:
		imm := (bits(word, 31, 25) << 5) | bits(word, 11, 7)
		in.Imm = signExtend(imm, 12)
		in.Rs1 = rs1
		in.Rs2 = rs2
		switch funct3 {
		case 0:
			in.Op = SB
		case 1:
			in.Op = SH
		case 2:
			in.Op = SW
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opImm:
		in.Rd = rd
		in.Rs1 = rs1
		switch funct3 {
		case 0:
			in.Op = ADDI
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 2:
			in.Op = SLTI
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 3:
			in.Op = SLTIU
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 4:
			in.Op = XORI
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 6:
			in.Op = ORI
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 7:
			in.Op = ANDI
			in.Imm = signExtend(bits(word, 31, 20), 12)
		case 1:
			if funct7 != 0 {
				return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
			}
			in.Op = SLLI
			in.Imm = int32(bits(word, 24, 20))
		case 5:
			shamt := int32(bits(word, 24, 20))
			switch funct7 {
			case 0x00:
				in.Op = SRLI
				in.Imm = shamt
			case 0x20:
				in.Op = SRAI
				in.Imm = shamt
			default:
				return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
			}
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opReg:
		in.Rd = rd
		in.Rs1 = rs1
		in.Rs2 = rs2
		if funct7 == 0x01 { // RV32M
			switch funct3 {
			case 0:
				in.Op = MUL
			case 1:
				in.Op = MULH
			case 2:
				in.Op = MULHSU
			case 3:
				in.Op = MULHU
			case 4:
				in.Op = DIV
			case 5:
				in.Op = DIVU
			case 6:
				in.Op = REM
			case 7:
				in.Op = REMU
			}
			return in, nil
		}
		switch {
		case funct3 == 0 && funct7 == 0x00:
			in.Op = ADD
		case funct3 == 0 && funct7 == 0x20:
			in.Op = SUB
		case funct3 == 1 && funct7 == 0x00:
			in.Op = SLL
		case funct3 == 2 && funct7 == 0x00:
			in.Op = SLT
		case funct3 == 3 && funct7 == 0x00:
			in.Op = SLTU
		case funct3 == 4 && funct7 == 0x00:
			in.Op = XOR
		case funct3 == 5 && funct7 == 0x00:
			in.Op = SRL
		case funct3 == 5 && funct7 == 0x20:
			in.Op = SRA
		case funct3 == 6 && funct7 == 0x00:
			in.Op = OR
		case funct3 == 7 && funct7 == 0x00:
			in.Op = AND
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opMiscMem:
		switch funct3 {
		case 0:
			in.Op = FENCE
		case 1:
			in.Op = FENCEI
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}
		return in, nil

	case opSystem:
		switch funct3 {
		case 0:
			imm := bits(word, 31, 20)
			if imm == 0 {
				in.Op = ECALL
			} else if imm == 1 {
				in.Op = EBREAK
			} else {
				return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
			}
			return in, nil
		case 1, 2, 3, 5, 6, 7:
			in.Rd = rd
			in.Rs1 = rs1
			in.CSR = uint16(bits(word, 31, 20))
			switch funct3 {
			case 1:
				in.Op = CSRRW
			case 2:
				in.Op = CSRRS
			case 3:
				in.Op = CSRRC
			case 5:
				in.Op = CSRRWI
				in.Imm = int32(rs1)
			case 6:
				in.Op = CSRRSI
				in.Imm = int32(rs1)
			case 7:
				in.Op = CSRRCI
				in.Imm = int32(rs1)
			}
			return in, nil
		default:
			return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
		}

	default:
		return in, sbterr.InvalidInstructionEncoding(uint32(addr), word)
	}
}

// CSR addresses for the unprivileged read-only performance counters.
const (
	CSRCycle    = 0xC00
	CSRTime     = 0xC01
	CSRInstret  = 0xC02
	CSRCycleH   = 0xC80
	CSRTimeH    = 0xC81
	CSRInstretH = 0xC82
)
